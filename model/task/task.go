package task

import (
	"time"

	"github.com/distrain/tracker"
	"github.com/google/uuid"
	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
)

const (
	// Collection is the name of the collection that stores tasks.
	Collection = "tasks"
)

var (
	IdKey             = bsonutil.MustHaveTag(Task{}, "Id")
	DevicesCountKey   = bsonutil.MustHaveTag(Task{}, "DevicesCount")
	ParamsKey         = bsonutil.MustHaveTag(Task{}, "Params")
	StatusKey         = bsonutil.MustHaveTag(Task{}, "Status")
	DataTypeKey       = bsonutil.MustHaveTag(Task{}, "DataType")
	DataTypeParamsKey = bsonutil.MustHaveTag(Task{}, "DataTypeParams")
	MultipleFilesKey  = bsonutil.MustHaveTag(Task{}, "MultipleFiles")
	CreatedAtKey      = bsonutil.MustHaveTag(Task{}, "CreatedAt")
	StartedAtKey      = bsonutil.MustHaveTag(Task{}, "StartedAt")
)

// Task is a unit of distributed work that needs a fixed number of devices
// before it can start.
type Task struct {
	Id             string    `bson:"_id" json:"id"`
	DevicesCount   int       `bson:"devices_count" json:"devices_count"`
	Params         string    `bson:"params" json:"params"`
	Status         string    `bson:"status" json:"status"`
	DataType       string    `bson:"data_type" json:"data_type"`
	DataTypeParams string    `bson:"data_type_params" json:"data_type_params"`
	MultipleFiles  bool      `bson:"multiple_files" json:"multiple_files"`
	CreatedAt      time.Time `bson:"created_at" json:"created_at"`
	StartedAt      time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
}

// Options describes a task submission.
type Options struct {
	DevicesCount   int    `json:"devices_count"`
	Params         string `json:"params"`
	DataType       string `json:"data_type"`
	DataTypeParams string `json:"data_type_params"`
	MultipleFiles  bool   `json:"multiple_files"`
}

func (o *Options) Validate() error {
	if o.DevicesCount < 1 {
		return errors.Errorf("devices count must be positive, got %d", o.DevicesCount)
	}
	return nil
}

// New builds a task with a fresh id in the new status.
func New(opts Options) (*Task, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid task options")
	}

	return &Task{
		Id:             uuid.New().String(),
		DevicesCount:   opts.DevicesCount,
		Params:         opts.Params,
		Status:         tracker.TaskNew,
		DataType:       opts.DataType,
		DataTypeParams: opts.DataTypeParams,
		MultipleFiles:  opts.MultipleFiles,
		CreatedAt:      time.Now(),
	}, nil
}

// Validate checks that the record can be persisted.
func (t *Task) Validate() error {
	if t.Id == "" {
		return errors.New("task must have an ID")
	}
	if t.DevicesCount < 1 {
		return errors.Errorf("task '%s' must require at least one device", t.Id)
	}
	if !tracker.IsValidTaskStatus(t.Status) {
		return errors.Errorf("invalid task status '%s'", t.Status)
	}
	return nil
}

// IsSchedulable reports whether the task is still waiting for devices.
func (t *Task) IsSchedulable() bool {
	return t.Status == tracker.TaskNew
}

// IsFinished reports whether the task reached a terminal status.
func (t *Task) IsFinished() bool {
	return t.Status == tracker.TaskSucceeded || t.Status == tracker.TaskFailed
}
