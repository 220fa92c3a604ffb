package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/environment"
	"github.com/distrain/tracker/rest/model"
	"github.com/distrain/tracker/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommunicatorAgainstTracker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	env, err := environment.New(ctx, &tracker.Settings{})
	require.NoError(t, err)
	defer env.Close(ctx)

	router, err := service.GetRouter(service.NewCoordinator(env))
	require.NoError(t, err)
	server := httptest.NewServer(router)
	defer server.Close()

	comm := NewCommunicator(server.URL)
	defer comm.Close()
	comm.SetMaxAttempts(1)

	created, err := comm.SubmitTask(ctx, model.APITaskSubmission{DevicesCount: 3, DataType: "image"})
	require.NoError(t, err)
	require.NotEmpty(t, created.TaskID)
	assert.Len(t, created.ChunkURLs, 3)
	assert.NotEmpty(t, created.MetadataURL)

	_, err = comm.SubmitTask(ctx, model.APITaskSubmission{})
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))

	got, err := comm.GetTask(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Equal(t, created.TaskID, got.Id)
	assert.Equal(t, tracker.TaskNew, got.Status)
	assert.Equal(t, 3, got.DevicesCount)

	_, err = comm.GetTask(ctx, "missing")
	assert.True(t, IsNotFound(err))

	tasks, err := comm.ListTasks(ctx, tracker.TaskNew)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	tasks, err = comm.ListTasks(ctx, tracker.TaskOngoing)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	mesh, err := comm.GetTaskMesh(ctx, created.TaskID)
	require.NoError(t, err)
	assert.Empty(t, mesh)

	devices, err := comm.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devices)

	_, err = comm.GetDevice(ctx, "missing")
	assert.True(t, IsNotFound(err))

	assert.NoError(t, comm.TriggerScheduler(ctx))
}
