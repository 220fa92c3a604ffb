package service

import (
	"context"

	"github.com/distrain/tracker/environment"
	"github.com/distrain/tracker/queue"
	"github.com/distrain/tracker/registry"
	"github.com/distrain/tracker/scheduler"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Coordinator owns the registry, queue and scheduler of one tracker
// process. There is exactly one per environment.
type Coordinator struct {
	Registry  *registry.Registry
	Queue     *queue.Queue
	Scheduler *scheduler.Scheduler
	Runner    *scheduler.Runner

	env *environment.Environment
}

func NewCoordinator(env *environment.Environment) *Coordinator {
	store := env.Store()
	reg := registry.New(store, env.Cache())
	tasks := queue.New(store)
	sched := scheduler.New(reg, tasks, store, scheduler.NewDispatcher(env.ObjectStore()), scheduler.NewMeshBuilder(store))

	c := &Coordinator{
		Registry:  reg,
		Queue:     tasks,
		Scheduler: sched,
		Runner:    scheduler.NewRunner(sched, env.Settings().Scheduler.TickInterval()),
		env:       env,
	}
	grip.Warning(message.WrapError(instrumentMeter(globalMeter(), c), message.Fields{
		"message": "could not instrument coordinator",
	}))

	return c
}

// Prepare marks every device left over from a previous run disconnected,
// since none of their sockets survived the restart.
func (c *Coordinator) Prepare(ctx context.Context) error {
	if err := c.Registry.Reset(ctx); err != nil {
		return errors.Wrap(err, "resetting devices")
	}
	return nil
}

// Disconnect closes every open device session.
func (c *Coordinator) Disconnect() {
	grip.Info(message.Fields{
		"message": "closing device sessions",
		"closed":  c.Registry.CloseAll(),
	})
}
