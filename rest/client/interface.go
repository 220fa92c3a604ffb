package client

import (
	"context"
	"time"

	"github.com/distrain/tracker/rest/model"
)

// Communicator talks to the REST API of a running tracker.
type Communicator interface {
	// SetTimeoutStart sets the initial wait between attempts.
	SetTimeoutStart(time.Duration)
	// SetTimeoutMax sets the maximum wait between attempts.
	SetTimeoutMax(time.Duration)
	// SetMaxAttempts sets the number of attempts a request will be made.
	SetMaxAttempts(int)

	// SubmitTask creates a task and returns its upload references.
	SubmitTask(context.Context, model.APITaskSubmission) (*model.APITaskCreated, error)
	// GetTask returns a task with its assignments.
	GetTask(ctx context.Context, id string) (*model.APITask, error)
	// ListTasks returns the tasks with the given status, or every task.
	ListTasks(ctx context.Context, status string) ([]model.APITask, error)
	// GetTaskMesh returns the peer edges recorded for a task.
	GetTaskMesh(ctx context.Context, id string) ([]model.APIMeshEdge, error)
	ListDevices(context.Context) ([]model.APIDevice, error)
	GetDevice(ctx context.Context, id string) (*model.APIDevice, error)
	// TriggerScheduler asks the tracker for a scheduling attempt.
	TriggerScheduler(context.Context) error

	// Close releases the underlying HTTP client.
	Close()
}
