package route

import (
	"context"

	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/device"
	"github.com/distrain/tracker/model/edge"
	"github.com/distrain/tracker/model/task"
	"github.com/distrain/tracker/registry"
	"github.com/distrain/tracker/storage"
	"github.com/evergreen-ci/gimlet"
)

// TaskQueue is the task side of the REST API.
type TaskQueue interface {
	Submit(ctx context.Context, opts task.Options) (*task.Task, error)
	Get(ctx context.Context, id string) (*task.Task, error)
	List(ctx context.Context, status string) ([]task.Task, error)
}

// DeviceRegistry is the device side of the REST API.
type DeviceRegistry interface {
	Devices(ctx context.Context) ([]device.Device, error)
	Device(ctx context.Context, id string) (*device.Device, error)
	CachedStatus(ctx context.Context, id string) (string, bool, error)
	GetSocket(id string) (registry.Socket, bool)
}

// EdgeStore reads the relationships recorded for a task.
type EdgeStore interface {
	FindWorksOn(ctx context.Context, q db.WorksOnQuery) ([]edge.WorksOn, error)
	FindWorksWith(ctx context.Context, taskID string) ([]edge.WorksWith, error)
}

// Trigger requests a scheduling attempt.
type Trigger interface {
	Trigger()
}

type HandlerOpts struct {
	Tasks   TaskQueue
	Devices DeviceRegistry
	Edges   EdgeStore
	Objects storage.ObjectStore
	Trigger Trigger
}

// AttachHandler attaches the administrative routes to the app.
func AttachHandler(app *gimlet.APIApp, opts HandlerOpts) {
	app.AddRoute("/tasks").Version(1).Post().RouteHandler(makeSubmitTask(opts.Tasks, opts.Objects, opts.Trigger))
	app.AddRoute("/tasks").Version(1).Get().RouteHandler(makeListTasks(opts.Tasks))
	app.AddRoute("/tasks/{task_id}").Version(1).Get().RouteHandler(makeGetTask(opts.Tasks, opts.Edges))
	app.AddRoute("/tasks/{task_id}/mesh").Version(1).Get().RouteHandler(makeGetTaskMesh(opts.Tasks, opts.Edges))
	app.AddRoute("/devices").Version(1).Get().RouteHandler(makeListDevices(opts.Devices))
	app.AddRoute("/devices/{device_id}").Version(1).Get().RouteHandler(makeGetDevice(opts.Devices))
	app.AddRoute("/scheduler/trigger").Version(1).Post().RouteHandler(makeTriggerScheduler(opts.Trigger))
}
