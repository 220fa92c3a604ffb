package tracker

import (
	"time"

	"github.com/evergreen-ci/utility"
)

const (
	// DeviceDisconnected is the status of a device without a live socket.
	DeviceDisconnected = "disconnected"
	DeviceIdle         = "idle"
	DeviceBusy         = "busy"

	TaskNew       = "new"
	TaskOngoing   = "ongoing"
	TaskSucceeded = "succeeded"
	TaskFailed    = "failed"

	// DeviceIDHeader and DeviceAddressHeader carry a connecting device's
	// identity in the websocket upgrade request.
	DeviceIDHeader      = "X-Device-Id"
	DeviceAddressHeader = "X-Device-Address"

	// DeviceIDParam and DeviceAddressParam are the query string fallbacks for
	// clients that cannot set upgrade headers.
	DeviceIDParam      = "device_id"
	DeviceAddressParam = "address"

	DefaultServiceConfigurationFileName = "tracker.yml"
	DefaultServicePort                  = 9001
	DefaultDatabaseURL                  = "mongodb://localhost:27017"
	DefaultDatabaseName                 = "tracker"
	DefaultRedisURL                     = "redis://localhost:6379/0"
	DefaultBucketName                   = "distrain-tracker"
	DefaultBucketRegion                 = "us-west-2"
	DefaultURLExpiration                = time.Hour
	DefaultShutdownWait                 = 10 * time.Second
	DefaultSendBuffer                   = 16
	DefaultPingInterval                 = 30 * time.Second
	DefaultConnectAttempts              = 5

	StoreTypeMongo  = "mongo"
	StoreTypeMemory = "memory"
	CacheTypeRedis  = "redis"
	CacheTypeMemory = "memory"
	BucketTypeS3    = "s3"
	BucketTypeMock  = "mock"

	ServiceName = "tracker"
	PackageName = "github.com/distrain/tracker"
)

// BuildRevision is set at link time.
var BuildRevision = ""

var (
	DeviceStatuses = []string{
		DeviceDisconnected,
		DeviceIdle,
		DeviceBusy,
	}

	TaskStatuses = []string{
		TaskNew,
		TaskOngoing,
		TaskSucceeded,
		TaskFailed,
	}

	// TaskTerminalStatuses have no producer in the tracker; they are set by
	// an external completion signal.
	TaskTerminalStatuses = []string{
		TaskSucceeded,
		TaskFailed,
	}
)

// IsValidDeviceStatus reports whether status is a known device status.
func IsValidDeviceStatus(status string) bool {
	return utility.StringSliceContains(DeviceStatuses, status)
}

// IsValidTaskStatus reports whether status is a known task status.
func IsValidTaskStatus(status string) bool {
	return utility.StringSliceContains(TaskStatuses, status)
}
