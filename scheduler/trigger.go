package scheduler

import (
	"context"
	"time"

	"github.com/evergreen-ci/utility"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
)

// Attempter runs a single scheduling attempt.
type Attempter interface {
	Attempt(context.Context) (Result, error)
}

// Runner drives a Scheduler from triggers and an optional ticker. Triggers
// that arrive while an attempt is pending collapse into one.
type Runner struct {
	scheduler Attempter
	interval  time.Duration
	signal    chan struct{}
}

// NewRunner returns a runner for the scheduler. A non-positive interval
// disables the periodic attempt.
func NewRunner(s Attempter, interval time.Duration) *Runner {
	return &Runner{
		scheduler: s,
		interval:  interval,
		signal:    make(chan struct{}, 1),
	}
}

// Trigger requests an attempt. It never blocks.
func (r *Runner) Trigger() {
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Start runs attempts until the context is canceled.
func (r *Runner) Start(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	grip.Info(message.Fields{
		"message":  "starting scheduler runner",
		"runner":   RunnerName,
		"interval": r.interval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			grip.Info(message.Fields{
				"message": "stopping scheduler runner",
				"runner":  RunnerName,
			})
			return nil
		case <-r.signal:
			r.run(ctx)
		case <-tick:
			r.run(ctx)
		}
	}
}

func (r *Runner) run(ctx context.Context) {
	defer recovery.LogStackTraceAndContinue("scheduler attempt")

	if utility.IsContextError(ctx.Err()) {
		return
	}

	res, err := r.scheduler.Attempt(ctx)
	if err != nil {
		return
	}
	// more tasks may fit on the devices that are still idle
	if res.Outcome == OutcomeScheduled {
		r.Trigger()
	}
}
