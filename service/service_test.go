package service

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/distrain/tracker"
	"github.com/distrain/tracker/apimodels"
	"github.com/distrain/tracker/environment"
	restModel "github.com/distrain/tracker/rest/model"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestGetServer(t *testing.T) {
	srv := GetServer(":9001", http.NotFoundHandler())
	assert.Equal(t, ":9001", srv.Addr)
	assert.NotZero(t, srv.ReadHeaderTimeout)
	assert.Zero(t, srv.WriteTimeout)
}

func newTestServer(ctx context.Context, t *testing.T) (*Coordinator, *httptest.Server) {
	env, err := environment.New(ctx, &tracker.Settings{})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, env.Close(context.Background())) })

	c := NewCoordinator(env)
	require.NoError(t, c.Prepare(ctx))
	go func() { _ = c.Runner.Start(ctx) }()

	router, err := GetRouter(c)
	require.NoError(t, err)
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		c.Disconnect()
		server.Close()
	})

	return c, server
}

func dialDevice(ctx context.Context, t *testing.T, server *httptest.Server, id, forwardedFor string) *websocket.Conn {
	header := http.Header{}
	header.Set(tracker.DeviceIDHeader, id)
	header.Set("X-Forwarded-For", forwardedFor)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + SessionPath
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readWork(t *testing.T, conn *websocket.Conn) *apimodels.WorkAssignment {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		env := apimodels.Envelope{}
		require.NoError(t, conn.ReadJSON(&env))
		if env.Type != apimodels.WorkMessage {
			continue
		}
		assignment, err := env.DecodeAssignment()
		require.NoError(t, err)
		return assignment
	}
}

func TestRouterEndToEnd(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, server := newTestServer(ctx, t)

	body := `{"devices_count": 2, "params": "{}", "data_type": "text", "data_type_params": "{}"}`
	resp, err := http.Post(server.URL+"/rest/v1/tasks", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	created := restModel.APITaskCreated{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.TaskID)
	assert.Equal(t, tracker.TaskNew, created.Status)
	assert.Len(t, created.ChunkURLs, 2)

	first := dialDevice(ctx, t, server, "dev-1", "10.1.0.1")
	require.Eventually(t, func() bool { return c.Registry.Connected() == 1 }, 5*time.Second, 10*time.Millisecond)
	second := dialDevice(ctx, t, server, "dev-2", "10.1.0.2")

	a := readWork(t, first)
	b := readWork(t, second)
	assert.Equal(t, created.TaskID, a.TaskID)
	assert.Equal(t, created.TaskID, b.TaskID)
	assert.Equal(t, 0, a.Number)
	assert.Equal(t, 1, b.Number)
	assert.Equal(t, []apimodels.Peer{{Number: 1, Address: "10.1.0.2"}}, a.Peers)
	assert.Equal(t, []apimodels.Peer{{Number: 0, Address: "10.1.0.1"}}, b.Peers)

	require.Eventually(t, func() bool {
		tsk, err := c.Queue.Get(ctx, created.TaskID)
		return err == nil && tsk != nil && tsk.Status == tracker.TaskOngoing
	}, 5*time.Second, 10*time.Millisecond)

	resp, err = http.Get(server.URL + "/rest/v1/tasks/" + created.TaskID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	apiTask := restModel.APITask{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiTask))
	assert.Equal(t, tracker.TaskOngoing, apiTask.Status)
	assert.Len(t, apiTask.Assignments, 2)

	resp, err = http.Get(server.URL + "/rest/v1/devices/dev-1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	apiDevice := restModel.APIDevice{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiDevice))
	assert.Equal(t, "10.1.0.1", apiDevice.Address)
	assert.Equal(t, tracker.DeviceBusy, apiDevice.Status)
	assert.True(t, apiDevice.Connected)
}

func TestRouterUnknownRoute(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, server := newTestServer(ctx, t)

	resp, err := http.Get(server.URL + "/rest/v1/devices/missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(server.URL + "/nowhere")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDisconnectClosesSessions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, server := newTestServer(ctx, t)
	conn := dialDevice(ctx, t, server, "dev-1", "10.1.0.1")
	require.Eventually(t, func() bool { return c.Registry.Connected() == 1 }, 5*time.Second, 10*time.Millisecond)

	c.Disconnect()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	require.Eventually(t, func() bool {
		d, err := c.Registry.Device(ctx, "dev-1")
		return err == nil && d != nil && d.Status == tracker.DeviceDisconnected
	}, 5*time.Second, 10*time.Millisecond)
}

func TestConnectedDevicesGauge(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(ctx)

	c, server := newTestServer(ctx, t)
	require.NoError(t, instrumentMeter(provider.Meter(packageName), c))

	observed := func() int64 {
		rm := metricdata.ResourceMetrics{}
		require.NoError(t, reader.Collect(ctx, &rm))
		for _, scope := range rm.ScopeMetrics {
			for _, m := range scope.Metrics {
				if m.Name != connectedDevicesInstrument {
					continue
				}
				gauge, ok := m.Data.(metricdata.Gauge[int64])
				require.True(t, ok)
				require.Len(t, gauge.DataPoints, 1)
				return gauge.DataPoints[0].Value
			}
		}
		return -1
	}

	assert.EqualValues(t, 0, observed())
	dialDevice(ctx, t, server, "dev-1", "10.1.0.1")
	dialDevice(ctx, t, server, "dev-2", "10.1.0.2")
	require.Eventually(t, func() bool { return c.Registry.Connected() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 2, observed())
}
