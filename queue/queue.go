// Package queue owns task records and decides which task is scheduled next.
package queue

import (
	"context"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/task"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// Queue picks the smallest waiting task first, so a limited pool of devices
// starts as many tasks as it can. Large tasks can starve while small ones
// keep arriving.
type Queue struct {
	store db.GraphStore
}

func New(store db.GraphStore) *Queue {
	return &Queue{store: store}
}

// Submit validates and persists a new task.
func (q *Queue) Submit(ctx context.Context, opts task.Options) (*task.Task, error) {
	t, err := task.New(opts)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err = q.store.InsertTask(ctx, *t); err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message": "could not store submitted task",
			"task":    t.Id,
		}))
		return nil, errors.Wrapf(err, "storing task '%s'", t.Id)
	}

	grip.Info(message.Fields{
		"message":       "task submitted",
		"task":          t.Id,
		"devices_count": t.DevicesCount,
		"data_type":     t.DataType,
	})

	return t, nil
}

// PickSchedulable returns the new task requiring the fewest devices, ties
// going to the oldest, or nil if no task is waiting.
func (q *Queue) PickSchedulable(ctx context.Context) (*task.Task, error) {
	tasks, err := q.store.FindTasks(ctx, db.TaskQuery{
		Status:        tracker.TaskNew,
		SmallestFirst: true,
		Limit:         1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "finding schedulable task")
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	return &tasks[0], nil
}

// MarkOngoing moves a new task to ongoing and reports whether it did.
func (q *Queue) MarkOngoing(ctx context.Context, id string) (bool, error) {
	ok, err := q.store.SetTaskStatusIf(ctx, id, tracker.TaskNew, tracker.TaskOngoing)
	if err != nil {
		return false, errors.Wrapf(err, "marking task '%s' ongoing", id)
	}
	return ok, nil
}

// MarkStatus sets the task's status unconditionally.
func (q *Queue) MarkStatus(ctx context.Context, id, status string) error {
	if !tracker.IsValidTaskStatus(status) {
		return errors.Errorf("invalid task status '%s'", status)
	}
	return errors.Wrapf(q.store.SetTaskStatus(ctx, id, status), "setting status of task '%s'", id)
}

// Get returns the task, or nil if it does not exist.
func (q *Queue) Get(ctx context.Context, id string) (*task.Task, error) {
	t, err := q.store.FindTask(ctx, id)
	return t, errors.Wrapf(err, "finding task '%s'", id)
}

// List returns the tasks with the given status, or all tasks when status is
// empty, oldest first.
func (q *Queue) List(ctx context.Context, status string) ([]task.Task, error) {
	if status != "" && !tracker.IsValidTaskStatus(status) {
		return nil, errors.Errorf("invalid task status '%s'", status)
	}
	tasks, err := q.store.FindTasks(ctx, db.TaskQuery{Status: status})
	return tasks, errors.Wrap(err, "listing tasks")
}
