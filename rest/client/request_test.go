package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/evergreen-ci/gimlet"
	"github.com/stretchr/testify/suite"
)

type RequestTestSuite struct {
	suite.Suite
	comm *communicatorImpl
	ctx  context.Context
}

func TestRequestTestSuite(t *testing.T) {
	suite.Run(t, new(RequestTestSuite))
}

func (s *RequestTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.comm = NewCommunicator("url/").(*communicatorImpl)
	s.comm.SetTimeoutStart(time.Millisecond)
	s.comm.SetTimeoutMax(5 * time.Millisecond)
	s.comm.SetMaxAttempts(3)
}

func (s *RequestTestSuite) TearDownTest() {
	s.comm.Close()
}

func (s *RequestTestSuite) serve(handler http.HandlerFunc) {
	server := httptest.NewServer(handler)
	s.T().Cleanup(server.Close)
	s.comm.serverURL = server.URL
}

func (s *RequestTestSuite) TestGetPathReturnsCorrectPath() {
	s.Equal("url/rest/v1/foo", s.comm.getPath("foo"))
	s.Equal("url/rest/v1/foo", s.comm.getPath("/foo"))
}

func (s *RequestTestSuite) TestNewRequest() {
	r, err := s.comm.newRequest(s.ctx, http.MethodGet, "path", nil)
	s.Require().NoError(err)
	s.Equal("application/json", r.Header.Get("Content-Type"))
}

func (s *RequestTestSuite) TestValidateRequestInfo() {
	info := requestInfo{}
	s.Error(info.validateRequestInfo())
	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch} {
		info.method = method
		s.NoError(info.validateRequestInfo())
	}
	for _, method := range []string{"foo", "bar"} {
		info.method = method
		s.Error(info.validateRequestInfo())
	}
}

func (s *RequestTestSuite) TestServerErrorsAreRetried() {
	var calls int32
	s.serve(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		gimlet.WriteJSON(w, map[string]string{"ok": "yes"})
	})

	out := map[string]string{}
	s.Require().NoError(s.comm.retryRequest(s.ctx, requestInfo{method: http.MethodGet, path: "x"}, nil, &out))
	s.Equal("yes", out["ok"])
	s.EqualValues(3, atomic.LoadInt32(&calls))
}

func (s *RequestTestSuite) TestGivesUpAfterMaxAttempts() {
	var calls int32
	s.serve(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := s.comm.retryRequest(s.ctx, requestInfo{method: http.MethodGet, path: "x"}, nil, nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "after 3 attempts")
	s.EqualValues(3, atomic.LoadInt32(&calls))
}

func (s *RequestTestSuite) TestClientErrorsAreNotRetried() {
	var calls int32
	s.serve(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gimlet.WriteJSONResponse(w, http.StatusNotFound, gimlet.ErrorResponse{
			StatusCode: http.StatusNotFound,
			Message:    "task 'x' not found",
		})
	})

	err := s.comm.retryRequest(s.ctx, requestInfo{method: http.MethodGet, path: "tasks/x"}, nil, nil)
	s.Require().Error(err)
	s.True(IsNotFound(err))
	s.Contains(err.Error(), "task 'x' not found")
	s.EqualValues(1, atomic.LoadInt32(&calls))
}

func (s *RequestTestSuite) TestCanceledWhileWaiting() {
	s.comm.SetTimeoutStart(time.Minute)
	s.comm.SetTimeoutMax(time.Minute)
	s.serve(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	ctx, cancel := context.WithTimeout(s.ctx, 50*time.Millisecond)
	defer cancel()
	err := s.comm.retryRequest(ctx, requestInfo{method: http.MethodGet, path: "x"}, nil, nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "request canceled")
}

func (s *RequestTestSuite) TestClosedCommunicator() {
	s.comm.Close()
	s.comm.SetMaxAttempts(1)
	s.serve(func(w http.ResponseWriter, r *http.Request) {})
	s.Error(s.comm.retryRequest(s.ctx, requestInfo{method: http.MethodGet, path: "x"}, nil, nil))
}
