// Package registry tracks connected devices: their durable records, their
// cached statuses and the live socket of every connected device.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/apimodels"
	"github.com/distrain/tracker/cache"
	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/device"
	"github.com/google/uuid"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const disconnectAttempts = 3

var (
	ErrSocketClosed   = errors.New("socket is closed")
	ErrSendBufferFull = errors.New("socket send buffer is full")
)

// Socket is the live connection to a device. Send must not block on the
// network.
type Socket interface {
	Send(apimodels.Envelope) error
	Close() error
}

// Registry is the only writer of device statuses and of the socket map. A
// device has a socket in the map exactly when its status is not
// disconnected, apart from the window inside a connect or disconnect.
type Registry struct {
	store db.GraphStore
	cache cache.StatusCache

	// mu guards sockets only; no store or cache call runs under it.
	mu      sync.RWMutex
	sockets map[string]Socket
}

func New(store db.GraphStore, statusCache cache.StatusCache) *Registry {
	return &Registry{
		store:   store,
		cache:   statusCache,
		sockets: map[string]Socket{},
	}
}

// RegisterOrResume records a connecting device as idle. An empty id mints a
// new identity, reported by created. A supplied id resumes the existing
// record, or creates one under that id if the store has never seen it. Any
// assignment the device still held is released.
func (r *Registry) RegisterOrResume(ctx context.Context, id, address string) (string, bool, error) {
	now := time.Now()
	created := false

	if id != "" {
		resumed, err := r.resume(ctx, id, address, now)
		if err != nil {
			return "", false, err
		}
		if resumed {
			return id, false, nil
		}
	} else {
		id = uuid.New().String()
		created = true
	}

	err := r.store.InsertDevice(ctx, device.Device{
		Id:        id,
		Address:   address,
		Status:    tracker.DeviceIdle,
		LastLogin: now,
		CreatedAt: now,
	})
	if db.IsDuplicateKey(err) && !created {
		// a concurrent connection created the same id first
		resumed, resumeErr := r.resume(ctx, id, address, now)
		if resumeErr != nil {
			return "", false, resumeErr
		}
		if resumed {
			return id, false, nil
		}
	}
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message": "could not create device record",
			"device":  id,
			"address": address,
		}))
		return "", false, errors.Wrapf(err, "registering device '%s'", id)
	}

	r.cacheStatus(ctx, id, tracker.DeviceIdle)
	grip.Info(message.Fields{
		"message": "registered device",
		"device":  id,
		"address": address,
		"minted":  created,
	})

	return id, created, nil
}

func (r *Registry) resume(ctx context.Context, id, address string, at time.Time) (bool, error) {
	found, err := r.store.UpdateDeviceLogin(ctx, id, address, tracker.DeviceIdle, at)
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message": "could not resume device",
			"device":  id,
		}))
		return false, errors.Wrapf(err, "resuming device '%s'", id)
	}
	if !found {
		return false, nil
	}

	released, err := r.store.ReleaseWorksOn(ctx, id, "")
	grip.Warning(message.WrapError(err, message.Fields{
		"message": "could not release assignments of resumed device",
		"device":  id,
	}))
	grip.InfoWhen(released > 0, message.Fields{
		"message":  "released stale assignments of resumed device",
		"device":   id,
		"released": released,
	})

	r.cacheStatus(ctx, id, tracker.DeviceIdle)
	grip.Info(message.Fields{
		"message": "resumed device",
		"device":  id,
		"address": address,
	})

	return true, nil
}

// AttachSocket makes sock the live socket of the device. A socket it
// replaces is closed.
func (r *Registry) AttachSocket(id string, sock Socket) {
	r.mu.Lock()
	old := r.sockets[id]
	r.sockets[id] = sock
	r.mu.Unlock()

	if old != nil && old != sock {
		grip.Info(message.Fields{
			"message": "closing superseded socket",
			"device":  id,
		})
		grip.Warning(message.WrapError(old.Close(), message.Fields{
			"message": "problem closing superseded socket",
			"device":  id,
		}))
	}
}

// DetachSocket clears the device's socket, marks it disconnected and
// releases its active assignment. When sock is non-nil nothing happens unless
// it is still the device's live socket. It reports whether it detached.
func (r *Registry) DetachSocket(ctx context.Context, id string, sock Socket) bool {
	r.mu.Lock()
	current, ok := r.sockets[id]
	if !ok || (sock != nil && current != sock) {
		r.mu.Unlock()
		return false
	}
	delete(r.sockets, id)
	r.mu.Unlock()

	err := r.markDisconnected(ctx, id)

	released := 0
	if _, reconnected := r.GetSocket(id); reconnected {
		// the new connection already released the old assignments
		_, restoreErr := r.SetStatusAtomically(ctx, id, tracker.DeviceDisconnected, tracker.DeviceIdle)
		grip.Warning(message.WrapError(restoreErr, message.Fields{
			"message": "could not restore status of reconnected device",
			"device":  id,
		}))
	} else {
		var releaseErr error
		released, releaseErr = r.store.ReleaseWorksOn(ctx, id, "")
		grip.Warning(message.WrapError(releaseErr, message.Fields{
			"message": "could not release assignments of disconnected device",
			"device":  id,
		}))
	}

	grip.Info(message.Fields{
		"message":   "detached device",
		"device":    id,
		"released":  released,
		"status_ok": err == nil,
	})

	return true
}

// markDisconnected moves a connected device to disconnected with a
// conditional write, retrying while other writers change its status.
func (r *Registry) markDisconnected(ctx context.Context, id string) error {
	for i := 0; i < disconnectAttempts; i++ {
		for _, from := range []string{tracker.DeviceBusy, tracker.DeviceIdle} {
			changed, err := r.SetStatusAtomically(ctx, id, from, tracker.DeviceDisconnected)
			if err != nil || changed {
				return err
			}
		}

		d, err := r.store.FindDevice(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "finding device '%s'", id)
		}
		if d == nil || d.Status == tracker.DeviceDisconnected {
			return nil
		}
	}

	err := errors.Errorf("status of device '%s' kept changing", id)
	grip.Error(message.WrapError(err, message.Fields{
		"message":  "could not mark device disconnected",
		"device":   id,
		"attempts": disconnectAttempts,
	}))
	return err
}

// GetSocket returns the live socket for the device.
func (r *Registry) GetSocket(id string) (Socket, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sock, ok := r.sockets[id]
	return sock, ok
}

// Connected returns the number of devices with a live socket.
func (r *Registry) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sockets)
}

// CloseAll closes every live socket. Each session then detaches its device
// as its read loop ends.
func (r *Registry) CloseAll() int {
	r.mu.RLock()
	sockets := make(map[string]Socket, len(r.sockets))
	for id, sock := range r.sockets {
		sockets[id] = sock
	}
	r.mu.RUnlock()

	for id, sock := range sockets {
		grip.Warning(message.WrapError(sock.Close(), message.Fields{
			"message": "problem closing socket",
			"device":  id,
		}))
	}
	return len(sockets)
}

// ReserveIdle returns up to n idle devices that have a live socket, in the
// store's order. It does not change any status; the caller claims each
// device with SetStatusAtomically.
func (r *Registry) ReserveIdle(ctx context.Context, n int) ([]device.Device, error) {
	if n <= 0 {
		return []device.Device{}, nil
	}

	idle, err := r.store.FindDevices(ctx, db.DeviceQuery{Status: tracker.DeviceIdle})
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message": "could not list idle devices",
			"wanted":  n,
		}))
		return nil, errors.Wrap(err, "listing idle devices")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]device.Device, 0, n)
	for _, d := range idle {
		if _, ok := r.sockets[d.Id]; !ok {
			continue
		}
		out = append(out, d)
		if len(out) == n {
			break
		}
	}
	return out, nil
}

// SetStatus writes the status to the store and the cache. A failure of one
// write does not undo the other.
func (r *Registry) SetStatus(ctx context.Context, id, status string) error {
	if !tracker.IsValidDeviceStatus(status) {
		return errors.Errorf("invalid device status '%s'", status)
	}

	catcher := grip.NewBasicCatcher()
	catcher.Wrapf(r.store.SetDeviceStatus(ctx, id, status), "storing status '%s'", status)
	catcher.Wrapf(r.cache.SetStatus(ctx, id, status), "caching status '%s'", status)

	err := catcher.Resolve()
	grip.Error(message.WrapError(err, message.Fields{
		"message": "could not set device status",
		"device":  id,
		"status":  status,
	}))
	return errors.Wrapf(err, "setting status of device '%s'", id)
}

// SetStatusAtomically moves the device from one status to another only if
// it currently has the from status.
func (r *Registry) SetStatusAtomically(ctx context.Context, id, from, to string) (bool, error) {
	if !tracker.IsValidDeviceStatus(to) {
		return false, errors.Errorf("invalid device status '%s'", to)
	}

	ok, err := r.store.SetDeviceStatusIf(ctx, id, from, to)
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message": "could not change device status",
			"device":  id,
			"from":    from,
			"to":      to,
		}))
		return false, errors.Wrapf(err, "changing status of device '%s'", id)
	}
	if ok {
		r.cacheStatus(ctx, id, to)
	}
	return ok, nil
}

// Devices lists every known device.
func (r *Registry) Devices(ctx context.Context) ([]device.Device, error) {
	devices, err := r.store.FindDevices(ctx, db.DeviceQuery{})
	return devices, errors.Wrap(err, "listing devices")
}

// Device returns the device's record, or nil if it is unknown.
func (r *Registry) Device(ctx context.Context, id string) (*device.Device, error) {
	d, err := r.store.FindDevice(ctx, id)
	return d, errors.Wrapf(err, "finding device '%s'", id)
}

// CachedStatus returns the status held by the cache.
func (r *Registry) CachedStatus(ctx context.Context, id string) (string, bool, error) {
	return r.cache.GetStatus(ctx, id)
}

// Reset marks every device disconnected and releases every assignment.
// Sockets do not outlive the process, so this runs before serving.
func (r *Registry) Reset(ctx context.Context) error {
	catcher := grip.NewBasicCatcher()

	changed, err := r.store.SetAllDeviceStatuses(ctx, tracker.DeviceDisconnected)
	catcher.Wrap(err, "disconnecting all devices")
	released, err := r.store.ReleaseAllWorksOn(ctx)
	catcher.Wrap(err, "releasing all assignments")

	devices, err := r.store.FindDevices(ctx, db.DeviceQuery{})
	catcher.Wrap(err, "listing devices")
	for _, d := range devices {
		catcher.Wrapf(r.cache.SetStatus(ctx, d.Id, tracker.DeviceDisconnected), "caching status of device '%s'", d.Id)
	}

	grip.Info(message.Fields{
		"message":  "reset device statuses",
		"changed":  changed,
		"released": released,
		"devices":  len(devices),
		"errors":   catcher.HasErrors(),
	})

	return catcher.Resolve()
}

func (r *Registry) cacheStatus(ctx context.Context, id, status string) {
	grip.Warning(message.WrapError(r.cache.SetStatus(ctx, id, status), message.Fields{
		"message": "could not cache device status",
		"device":  id,
		"status":  status,
	}))
}
