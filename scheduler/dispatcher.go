package scheduler

import (
	"context"

	"github.com/distrain/tracker/apimodels"
	"github.com/distrain/tracker/model/device"
	"github.com/distrain/tracker/model/task"
	"github.com/distrain/tracker/registry"
	"github.com/distrain/tracker/storage"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

// ErrMissingSocket means a selected device has no live socket.
var ErrMissingSocket = errors.New("device has no live socket")

// SocketSource looks up a device's live socket.
type SocketSource interface {
	GetSocket(id string) (registry.Socket, bool)
}

// Dispatch is the work prepared for one device of a task.
type Dispatch struct {
	Device     device.Device
	Socket     registry.Socket
	Assignment apimodels.WorkAssignment
	Envelope   apimodels.Envelope
}

// Dispatcher builds work assignments and pushes them to devices.
type Dispatcher struct {
	objects storage.ObjectStore
}

func NewDispatcher(objects storage.ObjectStore) *Dispatcher {
	return &Dispatcher{objects: objects}
}

// Prepare builds one dispatch per device, ranked in the order given. Every
// device must have a live socket and every reference must sign, otherwise
// nothing is returned; Prepare itself has no side effects.
func (d *Dispatcher) Prepare(ctx context.Context, t task.Task, devices []device.Device, sockets SocketSource) ([]Dispatch, error) {
	metadata, err := d.objects.DownloadURL(ctx, storage.MetadataKey(t.Id))
	if err != nil {
		return nil, errors.Wrapf(err, "signing metadata for task '%s'", t.Id)
	}

	out := make([]Dispatch, 0, len(devices))
	for rank, dev := range devices {
		sock, ok := sockets.GetSocket(dev.Id)
		if !ok {
			return nil, errors.Wrapf(ErrMissingSocket, "device '%s' at rank %d", dev.Id, rank)
		}

		chunk, err := d.objects.DownloadURL(ctx, storage.ChunkKey(t.Id, rank))
		if err != nil {
			return nil, errors.Wrapf(err, "signing chunk %d for task '%s'", rank, t.Id)
		}

		assignment := apimodels.WorkAssignment{
			TaskID:         t.Id,
			Number:         rank,
			MetadataURL:    metadata.URL,
			ChunkURL:       chunk.URL,
			DataType:       t.DataType,
			DataTypeParams: t.DataTypeParams,
			Peers:          peersOf(devices, rank),
		}
		env, err := apimodels.NewWorkEnvelope(assignment)
		if err != nil {
			return nil, errors.Wrapf(err, "building work for device '%s'", dev.Id)
		}

		out = append(out, Dispatch{
			Device:     dev,
			Socket:     sock,
			Assignment: assignment,
			Envelope:   env,
		})
	}

	return out, nil
}

// peersOf lists every device except the one at rank, with its own rank.
func peersOf(devices []device.Device, rank int) []apimodels.Peer {
	peers := make([]apimodels.Peer, 0, len(devices)-1)
	for i, dev := range devices {
		if i == rank {
			continue
		}
		peers = append(peers, apimodels.Peer{Number: i, Address: dev.Address})
	}
	return peers
}

// Send queues every dispatch on its socket without waiting for delivery. A
// failed send is logged and otherwise ignored: the device learns nothing and
// its disconnect is the only signal. It returns the number queued.
func (d *Dispatcher) Send(dispatches []Dispatch) int {
	sent := 0
	for _, dispatch := range dispatches {
		err := dispatch.Socket.Send(dispatch.Envelope)
		if err != nil {
			grip.Warning(message.WrapError(err, message.Fields{
				"message": "could not send work to device",
				"device":  dispatch.Device.Id,
				"task":    dispatch.Assignment.TaskID,
				"rank":    dispatch.Assignment.Number,
			}))
			continue
		}
		sent++
		grip.Debug(message.Fields{
			"message": "sent work to device",
			"device":  dispatch.Device.Id,
			"task":    dispatch.Assignment.TaskID,
			"rank":    dispatch.Assignment.Number,
			"peers":   len(dispatch.Assignment.Peers),
		})
	}
	return sent
}
