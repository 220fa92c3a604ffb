package testutil

import (
	"sync"

	"github.com/distrain/tracker/apimodels"
	"github.com/pkg/errors"
)

// MockSocket records the envelopes sent to a device.
type MockSocket struct {
	// FailSends makes every Send return an error.
	FailSends bool

	mu     sync.Mutex
	sent   []apimodels.Envelope
	closed bool
}

func NewMockSocket() *MockSocket { return &MockSocket{} }

func (s *MockSocket) Send(env apimodels.Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("socket is closed")
	}
	if s.FailSends {
		return errors.New("send failed")
	}
	s.sent = append(s.sent, env)
	return nil
}

func (s *MockSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Sent returns a copy of the envelopes sent so far.
func (s *MockSocket) Sent() []apimodels.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]apimodels.Envelope{}, s.sent...)
}

// SentOfType returns the sent envelopes with the given type.
func (s *MockSocket) SentOfType(t apimodels.MessageType) []apimodels.Envelope {
	out := []apimodels.Envelope{}
	for _, env := range s.Sent() {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func (s *MockSocket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
