// Package edge holds the relationships recorded between devices and tasks.
package edge

import (
	"time"

	"github.com/google/uuid"
	"github.com/mongodb/anser/bsonutil"
)

const (
	WorksOnCollection   = "works_on"
	WorksWithCollection = "works_with"
)

var (
	WorksOnIdKey         = bsonutil.MustHaveTag(WorksOn{}, "Id")
	WorksOnDeviceKey     = bsonutil.MustHaveTag(WorksOn{}, "DeviceId")
	WorksOnTaskKey       = bsonutil.MustHaveTag(WorksOn{}, "TaskId")
	WorksOnNumberKey     = bsonutil.MustHaveTag(WorksOn{}, "Number")
	WorksOnActiveKey     = bsonutil.MustHaveTag(WorksOn{}, "Active")
	WorksOnCreatedAtKey  = bsonutil.MustHaveTag(WorksOn{}, "CreatedAt")
	WorksOnReleasedAtKey = bsonutil.MustHaveTag(WorksOn{}, "ReleasedAt")

	WorksWithIdKey     = bsonutil.MustHaveTag(WorksWith{}, "Id")
	WorksWithFromKey   = bsonutil.MustHaveTag(WorksWith{}, "From")
	WorksWithToKey     = bsonutil.MustHaveTag(WorksWith{}, "To")
	WorksWithTaskKey   = bsonutil.MustHaveTag(WorksWith{}, "TaskId")
	WorksWithCreatedAt = bsonutil.MustHaveTag(WorksWith{}, "CreatedAt")
)

// WorksOn assigns a device to a task at a rank. A device holds at most one
// active assignment; releasing it keeps the record for inspection.
type WorksOn struct {
	Id         string    `bson:"_id" json:"id"`
	DeviceId   string    `bson:"device_id" json:"device_id"`
	TaskId     string    `bson:"task_id" json:"task_id"`
	Number     int       `bson:"number" json:"number"`
	Active     bool      `bson:"active" json:"active"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	ReleasedAt time.Time `bson:"released_at,omitempty" json:"released_at,omitempty"`
}

// NewWorksOn builds an active assignment.
func NewWorksOn(deviceID, taskID string, number int) WorksOn {
	return WorksOn{
		Id:        uuid.New().String(),
		DeviceId:  deviceID,
		TaskId:    taskID,
		Number:    number,
		Active:    true,
		CreatedAt: time.Now(),
	}
}

// WorksWith is a directed mesh edge between two devices of one task.
type WorksWith struct {
	Id        string    `bson:"_id" json:"id"`
	From      string    `bson:"from" json:"from"`
	To        string    `bson:"to" json:"to"`
	TaskId    string    `bson:"task_id" json:"task_id"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

func NewWorksWith(from, to, taskID string) WorksWith {
	return WorksWith{
		Id:        uuid.New().String(),
		From:      from,
		To:        to,
		TaskId:    taskID,
		CreatedAt: time.Now(),
	}
}
