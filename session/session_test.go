package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/apimodels"
	"github.com/distrain/tracker/cache"
	"github.com/distrain/tracker/db"
	"github.com/distrain/tracker/model/task"
	"github.com/distrain/tracker/queue"
	"github.com/distrain/tracker/registry"
	"github.com/distrain/tracker/scheduler"
	"github.com/distrain/tracker/storage"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type countingTrigger struct {
	count int32
}

func (t *countingTrigger) Trigger() { atomic.AddInt32(&t.count, 1) }

func (t *countingTrigger) Count() int { return int(atomic.LoadInt32(&t.count)) }

// schedulingRegistry runs a scheduling attempt as soon as a socket is
// attached, before the session finishes connecting.
type schedulingRegistry struct {
	*registry.Registry
	ctx       context.Context
	scheduler *scheduler.Scheduler
	results   chan scheduler.Result
}

func (r *schedulingRegistry) AttachSocket(id string, sock registry.Socket) {
	r.Registry.AttachSocket(id, sock)
	res, _ := r.scheduler.Attempt(r.ctx)
	r.results <- res
}

type SessionSuite struct {
	ctx     context.Context
	cancel  context.CancelFunc
	store   *db.MemoryGraphStore
	reg     *registry.Registry
	trigger *countingTrigger
	server  *httptest.Server
	opts    Options
	suite.Suite
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 30*time.Second)
	s.store = db.NewMemoryGraphStore()
	s.reg = registry.New(s.store, cache.NewMemoryCache("", 0))
	s.trigger = &countingTrigger{}
	s.opts = Options{SendBuffer: 8}
	s.serve(s.trigger)
}

func (s *SessionSuite) serve(trigger Trigger) {
	s.serveWith(s.reg, trigger)
}

func (s *SessionSuite) serveWith(reg DeviceRegistry, trigger Trigger) {
	if s.server != nil {
		s.server.Close()
	}
	s.server = httptest.NewServer(NewHandler(reg, trigger, s.opts))
}

func (s *SessionSuite) TearDownTest() {
	s.reg.CloseAll()
	s.server.Close()
	s.server = nil
	s.cancel()
}

func (s *SessionSuite) dial(header http.Header, query string) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(s.server.URL, "http")
	if query != "" {
		url += "?" + query
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(s.ctx, url, header)
	s.Require().NoError(err)
	s.Require().Equal(http.StatusSwitchingProtocols, resp.StatusCode)
	return conn
}

func (s *SessionSuite) read(conn *websocket.Conn) apimodels.Envelope {
	s.Require().NoError(conn.SetReadDeadline(time.Now().Add(5 * time.Second)))
	env := apimodels.Envelope{}
	s.Require().NoError(conn.ReadJSON(&env))
	return env
}

func (s *SessionSuite) readDeviceID(conn *websocket.Conn) string {
	env := s.read(conn)
	s.Require().Equal(apimodels.DeviceIDMessage, env.Type)
	var id string
	s.Require().NoError(json.Unmarshal(env.Data, &id))
	return id
}

func (s *SessionSuite) join(conn *websocket.Conn) {
	s.Require().NoError(conn.WriteJSON(apimodels.Envelope{Type: apimodels.JoinMessage}))
}

func (s *SessionSuite) status(id string) string {
	d, err := s.store.FindDevice(s.ctx, id)
	s.Require().NoError(err)
	if d == nil {
		return ""
	}
	return d.Status
}

func (s *SessionSuite) eventuallyStatus(id, status string) {
	s.Eventually(func() bool { return s.status(id) == status }, 5*time.Second, 10*time.Millisecond,
		"device '%s' never became %s", id, status)
}

func (s *SessionSuite) TestNewDeviceGetsIdentity() {
	conn := s.dial(nil, "")
	id := s.readDeviceID(conn)
	s.NotEmpty(id)

	s.eventuallyStatus(id, tracker.DeviceIdle)
	d, err := s.reg.Device(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("127.0.0.1", d.Address)
	s.Eventually(func() bool { return s.trigger.Count() == 1 }, time.Second, 10*time.Millisecond)

	_, connected := s.reg.GetSocket(id)
	s.True(connected)

	s.Require().NoError(conn.Close())
	s.eventuallyStatus(id, tracker.DeviceDisconnected)
	s.Eventually(func() bool { return s.reg.Connected() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func (s *SessionSuite) TestSuppliedIdentityGetsNoIdentityMessage() {
	header := http.Header{}
	header.Set(tracker.DeviceIDHeader, "dev-1")
	header.Set(tracker.DeviceAddressHeader, "10.0.0.7")
	conn := s.dial(header, "")
	defer conn.Close()

	// the first frame is the join acknowledgment, not an identity
	s.join(conn)
	s.Equal("", s.readDeviceID(conn))

	s.eventuallyStatus("dev-1", tracker.DeviceIdle)
	d, err := s.reg.Device(s.ctx, "dev-1")
	s.Require().NoError(err)
	s.Equal("10.0.0.7", d.Address)
}

func (s *SessionSuite) TestIdentityFromQuery() {
	conn := s.dial(nil, "device_id=dev-q&address=10.0.0.8")
	defer conn.Close()

	s.join(conn)
	s.Equal("", s.readDeviceID(conn))

	d, err := s.reg.Device(s.ctx, "dev-q")
	s.Require().NoError(err)
	s.Require().NotNil(d)
	s.Equal("10.0.0.8", d.Address)
}

func (s *SessionSuite) TestResumeKeepsIdentity() {
	conn := s.dial(nil, "")
	id := s.readDeviceID(conn)
	s.Require().NoError(conn.Close())
	s.eventuallyStatus(id, tracker.DeviceDisconnected)

	header := http.Header{}
	header.Set(tracker.DeviceIDHeader, id)
	conn = s.dial(header, "")
	defer conn.Close()

	s.join(conn)
	s.Equal("", s.readDeviceID(conn))
	s.eventuallyStatus(id, tracker.DeviceIdle)

	all, err := s.reg.Devices(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 1)
}

func (s *SessionSuite) TestMalformedFramesAreIgnored() {
	conn := s.dial(nil, "")
	defer conn.Close()
	s.readDeviceID(conn)

	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":""}`)))
	s.Require().NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery","data":1}`)))
	s.Require().NoError(conn.WriteJSON(apimodels.Envelope{Type: apimodels.WorkMessage, Data: json.RawMessage(`"garbage"`)}))

	s.join(conn)
	s.Equal("", s.readDeviceID(conn))
}

func (s *SessionSuite) TestSupersededConnection() {
	header := http.Header{}
	header.Set(tracker.DeviceIDHeader, "dev-2")

	first := s.dial(header, "")
	defer first.Close()
	s.join(first)
	s.readDeviceID(first)

	second := s.dial(header, "")
	defer second.Close()
	s.join(second)
	s.readDeviceID(second)

	s.Require().NoError(first.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, _, err := first.ReadMessage()
	s.Error(err, "superseded connection is closed")

	s.Equal(tracker.DeviceIdle, s.status("dev-2"))
	s.Equal(1, s.reg.Connected())

	s.Require().NoError(second.Close())
	s.eventuallyStatus("dev-2", tracker.DeviceDisconnected)
}

func (s *SessionSuite) TestSilentDeviceIsDropped() {
	s.opts.PingInterval = 20 * time.Millisecond
	s.serve(s.trigger)

	header := http.Header{}
	header.Set(tracker.DeviceIDHeader, "dev-silent")
	conn := s.dial(header, "")
	defer conn.Close()

	// never reading means never answering pings
	s.eventuallyStatus("dev-silent", tracker.DeviceDisconnected)
}

func (s *SessionSuite) TestRespondingDeviceStaysConnected() {
	s.opts.PingInterval = 20 * time.Millisecond
	s.serve(s.trigger)

	header := http.Header{}
	header.Set(tracker.DeviceIDHeader, "dev-alive")
	conn := s.dial(header, "")
	defer conn.Close()
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.eventuallyStatus("dev-alive", tracker.DeviceIdle)
	time.Sleep(200 * time.Millisecond)
	s.Equal(tracker.DeviceIdle, s.status("dev-alive"))
}

func (s *SessionSuite) TestConnectedDevicesReceiveWork() {
	objects := storage.NewMockStore("http://bucket.local", time.Hour)
	tasks := queue.New(s.store)
	sched := scheduler.New(s.reg, tasks, s.store, scheduler.NewDispatcher(objects), scheduler.NewMeshBuilder(s.store))
	runner := scheduler.NewRunner(sched, 0)
	go func() { _ = runner.Start(s.ctx) }()
	s.serve(runner)

	t, err := tasks.Submit(s.ctx, task.Options{DevicesCount: 2, DataType: "text"})
	s.Require().NoError(err)

	a := s.dial(nil, "address=10.0.0.1")
	defer a.Close()
	idA := s.readDeviceID(a)
	s.eventuallyStatus(idA, tracker.DeviceIdle)

	b := s.dial(nil, "address=10.0.0.2")
	defer b.Close()
	idB := s.readDeviceID(b)

	for _, tc := range []struct {
		conn *websocket.Conn
		rank int
		peer apimodels.Peer
	}{
		{conn: a, rank: 0, peer: apimodels.Peer{Number: 1, Address: "10.0.0.2"}},
		{conn: b, rank: 1, peer: apimodels.Peer{Number: 0, Address: "10.0.0.1"}},
	} {
		env := s.read(tc.conn)
		s.Require().Equal(apimodels.WorkMessage, env.Type)
		assignment, err := env.DecodeAssignment()
		s.Require().NoError(err)
		s.Equal(t.Id, assignment.TaskID)
		s.Equal(tc.rank, assignment.Number)
		s.Equal([]apimodels.Peer{tc.peer}, assignment.Peers)
	}

	s.eventuallyStatus(idA, tracker.DeviceBusy)
	s.eventuallyStatus(idB, tracker.DeviceBusy)

	s.Require().NoError(a.Close())
	s.eventuallyStatus(idA, tracker.DeviceDisconnected)
	active, err := s.store.FindWorksOn(s.ctx, db.WorksOnQuery{DeviceId: idA, ActiveOnly: true})
	s.Require().NoError(err)
	s.Empty(active)
}

func (s *SessionSuite) TestDeviceClaimedWhileConnectingStaysBusy() {
	objects := storage.NewMockStore("http://bucket.local", time.Hour)
	tasks := queue.New(s.store)
	sched := scheduler.New(s.reg, tasks, s.store, scheduler.NewDispatcher(objects), scheduler.NewMeshBuilder(s.store))
	reg := &schedulingRegistry{
		Registry:  s.reg,
		ctx:       s.ctx,
		scheduler: sched,
		results:   make(chan scheduler.Result, 1),
	}
	s.serveWith(reg, s.trigger)

	first, err := tasks.Submit(s.ctx, task.Options{DevicesCount: 1, DataType: "text"})
	s.Require().NoError(err)

	conn := s.dial(nil, "address=10.0.0.1")
	defer conn.Close()
	id := s.readDeviceID(conn)

	select {
	case res := <-reg.results:
		s.Equal(scheduler.OutcomeScheduled, res.Outcome)
		s.Equal(first.Id, res.TaskID)
	case <-s.ctx.Done():
		s.FailNow("no scheduling attempt ran on attach")
	}
	env := s.read(conn)
	s.Require().Equal(apimodels.WorkMessage, env.Type)

	// the session has finished connecting once it triggers
	s.Eventually(func() bool { return s.trigger.Count() == 1 }, 5*time.Second, 10*time.Millisecond)
	s.Equal(tracker.DeviceBusy, s.status(id))
	active, err := s.store.FindWorksOn(s.ctx, db.WorksOnQuery{DeviceId: id, ActiveOnly: true})
	s.Require().NoError(err)
	s.Len(active, 1)

	second, err := tasks.Submit(s.ctx, task.Options{DevicesCount: 1, DataType: "text"})
	s.Require().NoError(err)
	res, err := sched.Attempt(s.ctx)
	s.Require().NoError(err)
	s.Equal(scheduler.OutcomeInsufficientDevices, res.Outcome)
	s.Equal(second.Id, res.TaskID)
}

func (s *SessionSuite) TestSocketSend() {
	conn := s.dial(nil, "")
	defer conn.Close()

	sock := newSocket(conn, 1, 0)
	env := apimodels.NewDeviceIDEnvelope("x")
	s.NoError(sock.Send(env))
	s.Equal(registry.ErrSendBufferFull, sock.Send(env))

	s.NoError(sock.Close())
	s.NoError(sock.Close())
	s.True(sock.closed())
	s.Equal(registry.ErrSocketClosed, sock.Send(env))
}

func (s *SessionSuite) TestIdentify() {
	for name, test := range map[string]struct {
		header  map[string]string
		query   string
		remote  string
		id      string
		address string
	}{
		"Headers": {
			header:  map[string]string{tracker.DeviceIDHeader: "h", tracker.DeviceAddressHeader: "10.0.0.1"},
			query:   "device_id=q&address=10.0.0.2",
			remote:  "192.168.0.1:5000",
			id:      "h",
			address: "10.0.0.1",
		},
		"Query": {
			query:   "device_id=q&address=10.0.0.2",
			remote:  "192.168.0.1:5000",
			id:      "q",
			address: "10.0.0.2",
		},
		"RemoteHost": {
			remote:  "192.168.0.1:5000",
			address: "192.168.0.1",
		},
		"RemoteWithoutPort": {
			remote:  "192.168.0.1",
			address: "192.168.0.1",
		},
	} {
		s.Run(name, func() {
			r := httptest.NewRequest(http.MethodGet, "/ws?"+test.query, nil)
			r.RemoteAddr = test.remote
			for k, v := range test.header {
				r.Header.Set(k, v)
			}
			id, address := Identify(r)
			s.Equal(test.id, id)
			s.Equal(test.address, address)
		})
	}
}
