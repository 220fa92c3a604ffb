package queue

import (
	"context"
	"testing"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	for name, test := range map[string]func(context.Context, *testing.T, *Queue){
		"SubmitPersistsNewTask": func(ctx context.Context, t *testing.T, q *Queue) {
			submitted, err := q.Submit(ctx, task.Options{DevicesCount: 2, Params: "p", DataType: "csv"})
			require.NoError(t, err)

			found, err := q.Get(ctx, submitted.Id)
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, tracker.TaskNew, found.Status)
			assert.Equal(t, 2, found.DevicesCount)
			assert.Equal(t, "p", found.Params)
			assert.Equal(t, "csv", found.DataType)
		},
		"SubmitRejectsInvalidTask": func(ctx context.Context, t *testing.T, q *Queue) {
			_, err := q.Submit(ctx, task.Options{DevicesCount: 0})
			assert.Error(t, err)

			tasks, err := q.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, tasks)
		},
		"PickSchedulableWithNoTasks": func(ctx context.Context, t *testing.T, q *Queue) {
			picked, err := q.PickSchedulable(ctx)
			require.NoError(t, err)
			assert.Nil(t, picked)
		},
		"PickSchedulablePrefersSmallest": func(ctx context.Context, t *testing.T, q *Queue) {
			_, err := q.Submit(ctx, task.Options{DevicesCount: 4})
			require.NoError(t, err)
			small, err := q.Submit(ctx, task.Options{DevicesCount: 2})
			require.NoError(t, err)
			time.Sleep(time.Millisecond)
			_, err = q.Submit(ctx, task.Options{DevicesCount: 2})
			require.NoError(t, err)

			picked, err := q.PickSchedulable(ctx)
			require.NoError(t, err)
			require.NotNil(t, picked)
			assert.Equal(t, small.Id, picked.Id)
		},
		"PickSchedulableSkipsStartedTasks": func(ctx context.Context, t *testing.T, q *Queue) {
			small, err := q.Submit(ctx, task.Options{DevicesCount: 1})
			require.NoError(t, err)
			big, err := q.Submit(ctx, task.Options{DevicesCount: 3})
			require.NoError(t, err)

			ok, err := q.MarkOngoing(ctx, small.Id)
			require.NoError(t, err)
			assert.True(t, ok)

			picked, err := q.PickSchedulable(ctx)
			require.NoError(t, err)
			require.NotNil(t, picked)
			assert.Equal(t, big.Id, picked.Id)
		},
		"MarkOngoingOnlyFromNew": func(ctx context.Context, t *testing.T, q *Queue) {
			submitted, err := q.Submit(ctx, task.Options{DevicesCount: 1})
			require.NoError(t, err)

			ok, err := q.MarkOngoing(ctx, submitted.Id)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = q.MarkOngoing(ctx, submitted.Id)
			require.NoError(t, err)
			assert.False(t, ok)
		},
		"MarkStatus": func(ctx context.Context, t *testing.T, q *Queue) {
			submitted, err := q.Submit(ctx, task.Options{DevicesCount: 1})
			require.NoError(t, err)

			require.NoError(t, q.MarkStatus(ctx, submitted.Id, tracker.TaskFailed))
			found, err := q.Get(ctx, submitted.Id)
			require.NoError(t, err)
			assert.True(t, found.IsFinished())

			assert.Error(t, q.MarkStatus(ctx, submitted.Id, "paused"))
			assert.Error(t, q.MarkStatus(ctx, "missing", tracker.TaskFailed))
		},
		"ListFiltersByStatus": func(ctx context.Context, t *testing.T, q *Queue) {
			first, err := q.Submit(ctx, task.Options{DevicesCount: 1})
			require.NoError(t, err)
			_, err = q.Submit(ctx, task.Options{DevicesCount: 1})
			require.NoError(t, err)
			_, err = q.MarkOngoing(ctx, first.Id)
			require.NoError(t, err)

			all, err := q.List(ctx, "")
			require.NoError(t, err)
			assert.Len(t, all, 2)

			ongoing, err := q.List(ctx, tracker.TaskOngoing)
			require.NoError(t, err)
			require.Len(t, ongoing, 1)
			assert.Equal(t, first.Id, ongoing[0].Id)

			_, err = q.List(ctx, "paused")
			assert.Error(t, err)
		},
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			test(ctx, t, New(db.NewMemoryGraphStore()))
		})
	}
}
