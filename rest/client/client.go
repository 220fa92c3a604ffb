package client

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/evergreen-ci/utility"
)

const (
	defaultMaxAttempts  = 5
	defaultTimeoutStart = 200 * time.Millisecond
	defaultTimeoutMax   = 10 * time.Second

	restPrefix = "/rest/v1"
)

// communicatorImpl implements Communicator over HTTP, retrying requests that
// fail in transport or with a server error.
type communicatorImpl struct {
	serverURL    string
	maxAttempts  int
	timeoutStart time.Duration
	timeoutMax   time.Duration

	mutex      sync.RWMutex
	httpClient *http.Client
}

// NewCommunicator returns a Communicator for the tracker at serverURL. To
// change the default retry behavior, use the SetTimeoutStart, SetTimeoutMax
// and SetMaxAttempts methods.
func NewCommunicator(serverURL string) Communicator {
	return &communicatorImpl{
		serverURL:    strings.TrimSuffix(serverURL, "/"),
		maxAttempts:  defaultMaxAttempts,
		timeoutStart: defaultTimeoutStart,
		timeoutMax:   defaultTimeoutMax,
		httpClient:   utility.GetHTTPClient(),
	}
}

func (c *communicatorImpl) SetTimeoutStart(timeoutStart time.Duration) {
	c.timeoutStart = timeoutStart
}

func (c *communicatorImpl) SetTimeoutMax(timeoutMax time.Duration) {
	c.timeoutMax = timeoutMax
}

func (c *communicatorImpl) SetMaxAttempts(attempts int) {
	c.maxAttempts = attempts
}

func (c *communicatorImpl) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.httpClient != nil {
		utility.PutHTTPClient(c.httpClient)
		c.httpClient = nil
	}
}

// resetClient replaces a client whose connections may be broken.
func (c *communicatorImpl) resetClient() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.httpClient != nil {
		utility.PutHTTPClient(c.httpClient)
	}
	c.httpClient = utility.GetHTTPClient()
}
