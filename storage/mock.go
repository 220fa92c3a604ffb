package storage

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// MockStore issues unsigned URLs under a fixed base and records every
// request.
type MockStore struct {
	BaseURL    string
	Expiration time.Duration
	// FailKeys makes signing fail for the listed keys.
	FailKeys map[string]bool

	mu        sync.Mutex
	Downloads []string
	Uploads   []string
}

func NewMockStore(baseURL string, expiration time.Duration) *MockStore {
	return &MockStore{
		BaseURL:    baseURL,
		Expiration: expiration,
		FailKeys:   map[string]bool{},
	}
}

func (m *MockStore) DownloadURL(_ context.Context, key string) (SignedURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailKeys[key] {
		return SignedURL{}, errors.Errorf("signing '%s' failed", key)
	}
	m.Downloads = append(m.Downloads, key)
	return m.sign(key, http.MethodGet), nil
}

func (m *MockStore) UploadURL(_ context.Context, key string) (SignedURL, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailKeys[key] {
		return SignedURL{}, errors.Errorf("signing '%s' failed", key)
	}
	m.Uploads = append(m.Uploads, key)
	return m.sign(key, http.MethodPut), nil
}

func (m *MockStore) sign(key, method string) SignedURL {
	return SignedURL{
		Key:       key,
		URL:       fmt.Sprintf("%s/%s?expires=%d", m.BaseURL, key, int(m.Expiration.Seconds())),
		Method:    method,
		ExpiresAt: time.Now().Add(m.Expiration),
	}
}
