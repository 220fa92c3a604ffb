package db

import (
	"context"
	"time"

	"github.com/distrain/tracker/model/device"
	"github.com/distrain/tracker/model/edge"
	"github.com/distrain/tracker/model/task"
)

// GraphStore persists device and task nodes and the WORKS_ON and WORKS_WITH
// relationships between them. Each method is atomic on its own; the store
// provides no transactions across calls.
//
// Lookups of a single record return (nil, nil) when nothing matches.
type GraphStore interface {
	InsertDevice(context.Context, device.Device) error
	FindDevice(ctx context.Context, id string) (*device.Device, error)
	FindDevices(context.Context, DeviceQuery) ([]device.Device, error)
	// UpdateDeviceLogin refreshes the address, last login time and status of
	// an existing device. It reports false if the device does not exist.
	UpdateDeviceLogin(ctx context.Context, id, address, status string, at time.Time) (bool, error)
	SetDeviceStatus(ctx context.Context, id, status string) error
	// SetDeviceStatusIf sets the status only if the current status matches
	// from, and reports whether it did.
	SetDeviceStatusIf(ctx context.Context, id, from, to string) (bool, error)
	// SetAllDeviceStatuses sets every device's status and returns the
	// number of records changed.
	SetAllDeviceStatuses(ctx context.Context, status string) (int, error)

	InsertTask(context.Context, task.Task) error
	FindTask(ctx context.Context, id string) (*task.Task, error)
	FindTasks(context.Context, TaskQuery) ([]task.Task, error)
	SetTaskStatus(ctx context.Context, id, status string) error
	SetTaskStatusIf(ctx context.Context, id, from, to string) (bool, error)

	// InsertWorksOn fails with a duplicate key error if the device already
	// has an active assignment.
	InsertWorksOn(context.Context, edge.WorksOn) error
	FindWorksOn(context.Context, WorksOnQuery) ([]edge.WorksOn, error)
	// ReleaseWorksOn deactivates the device's active assignments; an empty
	// task id matches every task. It returns the number released.
	ReleaseWorksOn(ctx context.Context, deviceID, taskID string) (int, error)
	// ReleaseAllWorksOn deactivates every active assignment.
	ReleaseAllWorksOn(context.Context) (int, error)
	// RemoveWorksOn deletes a single assignment record.
	RemoveWorksOn(ctx context.Context, id string) error

	InsertWorksWith(context.Context, ...edge.WorksWith) error
	FindWorksWith(ctx context.Context, taskID string) ([]edge.WorksWith, error)
	RemoveWorksWith(ctx context.Context, taskID string) (int, error)

	Close(context.Context) error
}

// DeviceQuery filters device listings. Zero values match everything.
type DeviceQuery struct {
	Status string
	Limit  int
}

// TaskQuery filters task listings. SmallestFirst orders by the number of
// required devices, then by creation time.
type TaskQuery struct {
	Status        string
	SmallestFirst bool
	Limit         int
}

// WorksOnQuery filters assignment listings. Zero values match everything.
type WorksOnQuery struct {
	DeviceId   string
	TaskId     string
	ActiveOnly bool
}
