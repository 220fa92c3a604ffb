package device

import (
	"time"

	"github.com/distrain/tracker"
	"github.com/mongodb/anser/bsonutil"
	"github.com/pkg/errors"
)

const (
	// Collection is the name of the collection that stores devices.
	Collection = "devices"
)

var (
	IdKey        = bsonutil.MustHaveTag(Device{}, "Id")
	AddressKey   = bsonutil.MustHaveTag(Device{}, "Address")
	StatusKey    = bsonutil.MustHaveTag(Device{}, "Status")
	LastLoginKey = bsonutil.MustHaveTag(Device{}, "LastLogin")
	CreatedAtKey = bsonutil.MustHaveTag(Device{}, "CreatedAt")
)

// Device is the durable record of a worker that connects over a socket. The
// live socket is session state and is never stored here.
type Device struct {
	Id        string    `bson:"_id" json:"id"`
	Address   string    `bson:"address" json:"address"`
	Status    string    `bson:"status" json:"status"`
	LastLogin time.Time `bson:"last_login" json:"last_login"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Validate checks that the record can be persisted.
func (d *Device) Validate() error {
	if d.Id == "" {
		return errors.New("device must have an ID")
	}
	if !tracker.IsValidDeviceStatus(d.Status) {
		return errors.Errorf("invalid device status '%s'", d.Status)
	}
	return nil
}

// IsAvailable reports whether the device may be reserved for a task.
func (d *Device) IsAvailable() bool {
	return d.Status == tracker.DeviceIdle
}

// Devices is a slice of devices in store order.
type Devices []Device

// Ids returns the ids in order.
func (ds Devices) Ids() []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Id)
	}
	return out
}
