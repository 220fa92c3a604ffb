// Package cache holds the fast device status lookups that sit beside the
// durable graph store.
package cache

import (
	"context"
)

// StatusCache maps device ids to their last written status.
type StatusCache interface {
	SetStatus(ctx context.Context, deviceID, status string) error
	// GetStatus reports false when the device has no cached status.
	GetStatus(ctx context.Context, deviceID string) (string, bool, error)
	Delete(ctx context.Context, deviceID string) error
	Close() error
}
