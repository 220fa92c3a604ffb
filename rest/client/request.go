package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/evergreen-ci/gimlet"
	"github.com/jpillora/backoff"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

type requestInfo struct {
	method string
	path   string
}

func (r *requestInfo) validateRequestInfo() error {
	switch r.method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return nil
	default:
		return errors.Errorf("invalid HTTP method '%s'", r.method)
	}
}

// APIError is a response from the tracker that reports a client error.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tracker returned %d", e.StatusCode)
	}
	return fmt.Sprintf("tracker returned %d (%s)", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the tracker.
func IsNotFound(err error) bool {
	apiErr, ok := errors.Cause(err).(*APIError)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

func (c *communicatorImpl) getPath(path string) string {
	return fmt.Sprintf("%s%s/%s", c.serverURL, restPrefix, strings.TrimPrefix(path, "/"))
}

func (c *communicatorImpl) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, c.getPath(path), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	r.Header.Set("Content-Type", "application/json")
	return r, nil
}

func (c *communicatorImpl) doRequest(r *http.Request) (*http.Response, error) {
	var (
		response *http.Response
		err      error
		closed   bool
	)

	func() {
		c.mutex.RLock()
		defer c.mutex.RUnlock()
		if c.httpClient == nil {
			closed = true
			return
		}
		response, err = c.httpClient.Do(r)
	}()

	if closed {
		return nil, errors.New("communicator is closed")
	}
	if err != nil {
		c.resetClient()
		return nil, errors.WithStack(err)
	}
	if response == nil {
		return nil, errors.New("received nil response")
	}

	return response, nil
}

// retryRequest sends data as JSON and decodes a successful response into
// out, which may be nil. Client errors are returned at once; transport and
// server errors are retried with backoff.
func (c *communicatorImpl) retryRequest(ctx context.Context, info requestInfo, data, out interface{}) error {
	if err := info.validateRequestInfo(); err != nil {
		return err
	}

	var body []byte
	if data != nil {
		var err error
		body, err = json.Marshal(data)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
	}

	b := c.getBackoff()
	var lastErr error
	for i := 1; i <= c.maxAttempts; i++ {
		r, err := c.newRequest(ctx, info.method, info.path, body)
		if err != nil {
			return err
		}

		done, err := c.attempt(r, out)
		if done {
			return err
		}
		lastErr = err

		if i == c.maxAttempts {
			break
		}
		wait := b.Duration()
		grip.Warning(message.WrapError(err, message.Fields{
			"message":   "request to tracker failed, retrying",
			"path":      info.path,
			"attempt":   i,
			"max":       c.maxAttempts,
			"wait_secs": wait.Seconds(),
		}))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "request canceled")
		case <-timer.C:
		}
	}

	return errors.Wrapf(lastErr, "failed to make request after %d attempts", c.maxAttempts)
}

// attempt makes one request. It reports done when the result should not be
// retried.
func (c *communicatorImpl) attempt(r *http.Request, out interface{}) (bool, error) {
	resp, err := c.doRequest(r)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return false, readAPIError(resp)
	case resp.StatusCode >= http.StatusBadRequest:
		return true, readAPIError(resp)
	}

	if out == nil {
		return true, nil
	}
	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return true, errors.Wrap(err, "decoding response")
	}
	return true, nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apiErr
	}
	errResp := gimlet.ErrorResponse{}
	if err = json.Unmarshal(data, &errResp); err == nil && errResp.Message != "" {
		apiErr.Message = errResp.Message
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}

func (c *communicatorImpl) getBackoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    c.timeoutStart,
		Max:    c.timeoutMax,
		Factor: 2,
		Jitter: true,
	}
}
