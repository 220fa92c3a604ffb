// Package session runs the lifecycle of one device connection: it resolves
// the device's identity, registers its socket, relays inbound messages and
// detaches the device when the connection ends.
package session

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/apimodels"
	"github.com/distrain/tracker/registry"
	"github.com/gorilla/websocket"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
)

// DeviceRegistry is what a session needs from the registry.
type DeviceRegistry interface {
	RegisterOrResume(ctx context.Context, id, address string) (string, bool, error)
	AttachSocket(id string, sock registry.Socket)
	DetachSocket(ctx context.Context, id string, sock registry.Socket) bool
	SetStatusAtomically(ctx context.Context, id, from, to string) (bool, error)
}

// Trigger requests a scheduling attempt without waiting for it.
type Trigger interface {
	Trigger()
}

type Options struct {
	SendBuffer   int
	PingInterval time.Duration
}

// Handler upgrades requests to device sessions.
type Handler struct {
	registry DeviceRegistry
	trigger  Trigger
	opts     Options
	upgrader websocket.Upgrader
}

func NewHandler(reg DeviceRegistry, trigger Trigger, opts Options) *Handler {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = tracker.DefaultSendBuffer
	}
	return &Handler{
		registry: reg,
		trigger:  trigger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// devices are not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, address := Identify(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		grip.Info(message.WrapError(err, message.Fields{
			"message": "could not upgrade device connection",
			"remote":  r.RemoteAddr,
		}))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	h.run(ctx, conn, id, address)
}

func (h *Handler) run(ctx context.Context, conn *websocket.Conn, requestedID, address string) {
	sock := newSocket(conn, h.opts.SendBuffer, h.opts.PingInterval)
	defer sock.Close()

	id, created, err := h.registry.RegisterOrResume(ctx, requestedID, address)
	if err != nil {
		grip.Error(message.WrapError(err, message.Fields{
			"message":   "could not register device, closing connection",
			"requested": requestedID,
			"address":   address,
		}))
		return
	}
	sock.deviceID = id
	go sock.writeLoop()

	if created {
		grip.Warning(message.WrapError(sock.Send(apimodels.NewDeviceIDEnvelope(id)), message.Fields{
			"message": "could not send identity to device",
			"device":  id,
		}))
	}

	h.registry.AttachSocket(id, sock)
	// an older connection's detach may have marked the device disconnected
	_, err = h.registry.SetStatusAtomically(ctx, id, tracker.DeviceDisconnected, tracker.DeviceIdle)
	grip.Warning(message.WrapError(err, message.Fields{
		"message": "could not mark connected device idle",
		"device":  id,
	}))

	grip.Info(message.Fields{
		"message": "device connected",
		"device":  id,
		"address": address,
		"minted":  created,
	})
	h.trigger.Trigger()

	h.readLoop(id, conn, sock)

	if h.registry.DetachSocket(ctx, id, sock) {
		grip.Info(message.Fields{
			"message": "device disconnected",
			"device":  id,
		})
	}
}

func (h *Handler) readLoop(id string, conn *websocket.Conn, sock *wsSocket) {
	sock.keepalive()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if !sock.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				grip.Info(message.WrapError(err, message.Fields{
					"message": "device connection ended",
					"device":  id,
				}))
			}
			return
		}

		msg, err := apimodels.ParseMessage(frame)
		if err != nil {
			grip.Warning(message.WrapError(err, message.Fields{
				"message": "dropping malformed frame",
				"device":  id,
				"size":    len(frame),
			}))
			continue
		}

		h.handle(id, sock, msg)
	}
}

func (h *Handler) handle(id string, sock *wsSocket, msg apimodels.Message) {
	switch m := msg.(type) {
	case apimodels.Join:
		grip.Warning(message.WrapError(sock.Send(apimodels.NewDeviceIDEnvelope("")), message.Fields{
			"message": "could not acknowledge join",
			"device":  id,
		}))
	case apimodels.Work:
		fields := message.Fields{
			"message": "device reported on work",
			"device":  id,
		}
		if m.Assignment != nil {
			fields["task"] = m.Assignment.TaskID
			fields["rank"] = m.Assignment.Number
		}
		grip.Info(fields)
	default:
		grip.Debug(message.Fields{
			"message": "ignoring message of unknown type",
			"device":  id,
			"type":    msg.Type(),
		})
	}
}

// Identify reads the device id and address a connecting device presents,
// from headers first and query parameters second. Without an address the
// request's remote host is used.
func Identify(r *http.Request) (string, string) {
	query := r.URL.Query()

	id := r.Header.Get(tracker.DeviceIDHeader)
	if id == "" {
		id = query.Get(tracker.DeviceIDParam)
	}

	address := r.Header.Get(tracker.DeviceAddressHeader)
	if address == "" {
		address = query.Get(tracker.DeviceAddressParam)
	}
	if address == "" {
		address = r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			address = host
		}
	}

	return id, address
}
