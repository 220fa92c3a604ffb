package session

import (
	"sync"
	"time"

	"github.com/distrain/tracker/apimodels"
	"github.com/distrain/tracker/registry"
	"github.com/gorilla/websocket"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/mongodb/grip/recovery"
)

const writeWait = 10 * time.Second

// wsSocket queues outbound envelopes for a single writer goroutine, so
// senders never wait on the network.
type wsSocket struct {
	conn         *websocket.Conn
	out          chan apimodels.Envelope
	done         chan struct{}
	closeOnce    sync.Once
	pingInterval time.Duration
	deviceID     string
}

func newSocket(conn *websocket.Conn, buffer int, pingInterval time.Duration) *wsSocket {
	if buffer <= 0 {
		buffer = 1
	}
	return &wsSocket{
		conn:         conn,
		out:          make(chan apimodels.Envelope, buffer),
		done:         make(chan struct{}),
		pingInterval: pingInterval,
	}
}

func (s *wsSocket) Send(env apimodels.Envelope) error {
	select {
	case <-s.done:
		return registry.ErrSocketClosed
	default:
	}

	select {
	case s.out <- env:
		return nil
	case <-s.done:
		return registry.ErrSocketClosed
	default:
		return registry.ErrSendBufferFull
	}
}

// Close stops the writer and closes the connection, which also ends the
// session's read loop. It is safe to call more than once.
func (s *wsSocket) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *wsSocket) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writeLoop sends queued envelopes and keepalive pings until the socket is
// closed. A failed write closes the socket.
func (s *wsSocket) writeLoop() {
	defer recovery.LogStackTraceAndContinue("device socket writer")

	var ping <-chan time.Time
	if s.pingInterval > 0 {
		ticker := time.NewTicker(s.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-s.done:
			return
		case env := <-s.out:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(env); err != nil {
				s.fail(err, "could not write to device")
				return
			}
		case <-ping:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.fail(err, "could not ping device")
				return
			}
		}
	}
}

func (s *wsSocket) fail(err error, msg string) {
	if s.closed() {
		return
	}
	grip.Info(message.WrapError(err, message.Fields{
		"message": msg,
		"device":  s.deviceID,
	}))
	_ = s.Close()
}

// keepalive makes a device that stops answering pings look like a closed
// connection to the read loop.
func (s *wsSocket) keepalive() {
	if s.pingInterval <= 0 {
		return
	}
	wait := 2 * s.pingInterval
	_ = s.conn.SetReadDeadline(time.Now().Add(wait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(wait))
	})
}
