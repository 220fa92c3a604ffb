// Package storage issues time-limited references to task data kept in an
// object store.
package storage

import (
	"context"
	"fmt"
	"time"
)

// SignedURL is a capability URL for one object.
type SignedURL struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	Method    string    `json:"method"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ObjectStore signs download and upload references by object key.
type ObjectStore interface {
	DownloadURL(ctx context.Context, key string) (SignedURL, error)
	UploadURL(ctx context.Context, key string) (SignedURL, error)
}

// MetadataKey is the key of a task's metadata object.
func MetadataKey(taskID string) string {
	return fmt.Sprintf("%s/m.json", taskID)
}

// ChunkKey is the key of the data chunk for the device at rank.
func ChunkKey(taskID string, rank int) string {
	return fmt.Sprintf("%s/c%d.zip", taskID, rank)
}
