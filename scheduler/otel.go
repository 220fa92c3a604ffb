package scheduler

import (
	"fmt"

	"github.com/distrain/tracker"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

var packageName = fmt.Sprintf("%s%s", tracker.PackageName, "/scheduler")

var (
	tracer = otel.GetTracerProvider().Tracer(packageName)
	meter  = otel.GetMeterProvider().Meter(packageName)
)

const (
	taskIDAttribute       = "tracker.task.id"
	devicesCountAttribute = "tracker.task.devices_count"
	outcomeAttribute      = "tracker.scheduler.outcome"
	sentAttribute         = "tracker.scheduler.sent"

	attemptsInstrument        = "tracker.scheduler.attempts"
	attemptDurationInstrument = "tracker.scheduler.attempt.duration"
)

type instruments struct {
	attempts metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(m metric.Meter) instruments {
	attempts, err := m.Int64Counter(attemptsInstrument,
		metric.WithDescription("Scheduling attempts by outcome"))
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message":    "could not create instrument",
			"instrument": attemptsInstrument,
		}))
		attempts = noop.Int64Counter{}
	}

	duration, err := m.Float64Histogram(attemptDurationInstrument,
		metric.WithUnit("s"),
		metric.WithDescription("Duration of scheduling attempts"))
	if err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message":    "could not create instrument",
			"instrument": attemptDurationInstrument,
		}))
		duration = noop.Float64Histogram{}
	}

	return instruments{attempts: attempts, duration: duration}
}
