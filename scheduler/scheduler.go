package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/device"
	"github.com/distrain/tracker/model/edge"
	"github.com/distrain/tracker/model/task"
	"github.com/google/uuid"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/sometimes"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const RunnerName = "scheduler"

// DeviceRegistry is the device side of a scheduling attempt.
type DeviceRegistry interface {
	SocketSource
	ReserveIdle(ctx context.Context, n int) ([]device.Device, error)
	SetStatusAtomically(ctx context.Context, id, from, to string) (bool, error)
}

// TaskQueue is the task side of a scheduling attempt.
type TaskQueue interface {
	PickSchedulable(ctx context.Context) (*task.Task, error)
	MarkOngoing(ctx context.Context, id string) (bool, error)
}

// Outcome summarizes a scheduling attempt.
type Outcome string

const (
	OutcomeNoTask              Outcome = "no-task"
	OutcomeInsufficientDevices Outcome = "insufficient-devices"
	OutcomeMissingSocket       Outcome = "missing-socket"
	OutcomeReservationLost     Outcome = "reservation-lost"
	OutcomeFailed              Outcome = "failed"
	OutcomeScheduled           Outcome = "scheduled"
)

// Result describes what an attempt did. Devices is in rank order and is set
// only when the task was scheduled.
type Result struct {
	Outcome Outcome
	TaskID  string
	Devices []string
	Sent    int
}

// Scheduler matches the next task to idle devices. Attempts are mutually
// exclusive. An attempt validates every device before it changes anything,
// so a task either starts with all of its devices or not at all.
type Scheduler struct {
	mu         sync.Mutex
	devices    DeviceRegistry
	tasks      TaskQueue
	store      db.GraphStore
	dispatcher *Dispatcher
	mesh       *MeshBuilder
	metrics    instruments
}

func New(devices DeviceRegistry, tasks TaskQueue, store db.GraphStore, dispatcher *Dispatcher, mesh *MeshBuilder) *Scheduler {
	return &Scheduler{
		devices:    devices,
		tasks:      tasks,
		store:      store,
		dispatcher: dispatcher,
		mesh:       mesh,
		metrics:    newInstruments(meter),
	}
}

// Attempt runs one scheduling pass. Admission failures are reported through
// the outcome with a nil error; errors are persistence failures, after which
// the attempt has undone what it could.
func (s *Scheduler) Attempt(ctx context.Context) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, span := tracer.Start(ctx, "scheduler.attempt")
	defer span.End()

	startAt := time.Now()
	res, err := s.attempt(ctx)

	span.SetAttributes(
		attribute.String(outcomeAttribute, string(res.Outcome)),
		attribute.Int(sentAttribute, res.Sent),
	)
	outcome := metric.WithAttributes(attribute.String(outcomeAttribute, string(res.Outcome)))
	s.metrics.attempts.Add(ctx, 1, outcome)
	s.metrics.duration.Record(ctx, time.Since(startAt).Seconds(), outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scheduling attempt failed")
	}

	msg := message.Fields{
		"message":     "scheduling attempt complete",
		"runner":      RunnerName,
		"outcome":     res.Outcome,
		"task":        res.TaskID,
		"devices":     res.Devices,
		"sent":        res.Sent,
		"duration_ms": time.Since(startAt).Milliseconds(),
	}
	switch {
	case err != nil:
		grip.Error(message.WrapError(err, msg))
	case res.Outcome == OutcomeScheduled:
		grip.Info(msg)
	case res.Outcome == OutcomeNoTask:
		grip.DebugWhen(sometimes.Quarter(), msg)
	default:
		grip.Debug(msg)
	}

	return res, err
}

func (s *Scheduler) attempt(ctx context.Context) (Result, error) {
	t, err := s.tasks.PickSchedulable(ctx)
	if err != nil {
		return Result{Outcome: OutcomeFailed}, errors.Wrap(err, "picking task")
	}
	if t == nil {
		return Result{Outcome: OutcomeNoTask}, nil
	}
	res := Result{TaskID: t.Id}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String(taskIDAttribute, t.Id),
		attribute.Int(devicesCountAttribute, t.DevicesCount),
	)

	selected, err := s.devices.ReserveIdle(ctx, t.DevicesCount)
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, errors.Wrapf(err, "reserving devices for task '%s'", t.Id)
	}
	if len(selected) < t.DevicesCount {
		res.Outcome = OutcomeInsufficientDevices
		return res, nil
	}

	dispatches, err := s.dispatcher.Prepare(ctx, *t, selected, s.devices)
	if errors.Cause(err) == ErrMissingSocket {
		grip.Info(message.WrapError(err, message.Fields{
			"message": "selected device lost its socket, will retry later",
			"runner":  RunnerName,
			"task":    t.Id,
		}))
		res.Outcome = OutcomeMissingSocket
		return res, nil
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, errors.Wrapf(err, "preparing work for task '%s'", t.Id)
	}

	instance := uuid.New().String()
	commit := &commitment{store: s.store, devices: s.devices, taskID: t.Id, instance: instance}

	for _, dev := range selected {
		claimed, err := s.devices.SetStatusAtomically(ctx, dev.Id, tracker.DeviceIdle, tracker.DeviceBusy)
		if err != nil {
			res.Outcome = OutcomeFailed
			return res, errors.Wrap(commit.undo(ctx, err), "claiming devices")
		}
		if !claimed {
			grip.Info(message.Fields{
				"message":  "device stopped being idle before it was claimed, will retry later",
				"runner":   RunnerName,
				"instance": instance,
				"task":     t.Id,
				"device":   dev.Id,
			})
			res.Outcome = OutcomeReservationLost
			return res, commit.undo(ctx, nil)
		}
		commit.claimed = append(commit.claimed, dev.Id)
	}

	for rank, dev := range selected {
		assignment := edge.NewWorksOn(dev.Id, t.Id, rank)
		if err = s.store.InsertWorksOn(ctx, assignment); err != nil {
			res.Outcome = OutcomeFailed
			return res, errors.Wrap(commit.undo(ctx, err), "recording assignments")
		}
		commit.assignments = append(commit.assignments, assignment.Id)
	}

	// a device detached after its claim has no assignment for the detach to
	// release, so every socket is checked again once the assignments exist
	for _, dispatch := range dispatches {
		if sock, ok := s.devices.GetSocket(dispatch.Device.Id); ok && sock == dispatch.Socket {
			continue
		}
		grip.Info(message.Fields{
			"message":  "device disconnected before its task started, will retry later",
			"runner":   RunnerName,
			"instance": instance,
			"task":     t.Id,
			"device":   dispatch.Device.Id,
		})
		res.Outcome = OutcomeReservationLost
		return res, commit.undo(ctx, nil)
	}

	if _, err = s.mesh.Build(ctx, selected, t.Id); err != nil {
		commit.mesh = true
		res.Outcome = OutcomeFailed
		return res, errors.Wrap(commit.undo(ctx, err), "building mesh")
	}
	commit.mesh = true

	started, err := s.tasks.MarkOngoing(ctx, t.Id)
	if err == nil && !started {
		err = errors.Errorf("task '%s' is no longer new", t.Id)
	}
	if err != nil {
		res.Outcome = OutcomeFailed
		return res, errors.Wrap(commit.undo(ctx, err), "starting task")
	}

	res.Outcome = OutcomeScheduled
	res.Devices = device.Devices(selected).Ids()
	res.Sent = s.dispatcher.Send(dispatches)

	return res, nil
}

// commitment tracks the side effects of an attempt so a failure can undo
// them.
type commitment struct {
	store       db.GraphStore
	devices     DeviceRegistry
	taskID      string
	instance    string
	claimed     []string
	assignments []string
	mesh        bool
}

// undo reverts the attempt and returns cause combined with any failure to
// revert.
func (c *commitment) undo(ctx context.Context, cause error) error {
	catcher := grip.NewBasicCatcher()
	catcher.Add(cause)

	if c.mesh {
		_, err := c.store.RemoveWorksWith(ctx, c.taskID)
		catcher.Wrapf(err, "removing mesh of task '%s'", c.taskID)
	}
	for _, id := range c.assignments {
		catcher.Wrapf(c.store.RemoveWorksOn(ctx, id), "removing assignment '%s'", id)
	}
	for _, id := range c.claimed {
		// a device that disconnected meanwhile stays disconnected
		_, err := c.devices.SetStatusAtomically(ctx, id, tracker.DeviceBusy, tracker.DeviceIdle)
		catcher.Wrapf(err, "releasing device '%s'", id)
	}

	grip.InfoWhen(len(c.claimed) > 0, message.Fields{
		"message":     "undid partial scheduling attempt",
		"runner":      RunnerName,
		"instance":    c.instance,
		"task":        c.taskID,
		"devices":     c.claimed,
		"assignments": len(c.assignments),
		"mesh":        c.mesh,
	})

	return catcher.Resolve()
}
