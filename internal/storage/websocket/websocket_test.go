package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetsim/fleetctl/pkg/core"
	"github.com/fleetsim/fleetctl/pkg/streaming"
)

// messageLog is a thread-safe log of received envelopes.
type messageLog struct {
	mu      sync.Mutex
	msgs    []streaming.Envelope
	headers []string
}

func (m *messageLog) add(env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, env)
}

func (m *messageLog) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.msgs))
	for i, env := range m.msgs {
		out[i] = env.Type
	}
	return out
}

func (m *messageLog) auth() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.headers...)
}

// testServer creates an httptest server that upgrades to WebSocket,
// records received messages, and sends acks for start_run/end_run.
func testServer(t *testing.T) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.mu.Lock()
		ml.headers = append(ml.headers, r.Header.Get("Authorization"))
		ml.mu.Unlock()

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == streaming.TypeStartRun || env.Type == streaming.TypeEndRun {
				data, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, ml
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestStreamsRun(t *testing.T) {
	srv, ml := testServer(t)

	b := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())

	require.NoError(t, b.StartRun(&core.Run{Name: "stream"}))
	require.NoError(t, b.AddVehicle(core.Vehicle{ID: "veh_0"}))
	require.NoError(t, b.RecordTelemetry(core.TelemetryRow{VehicleID: "veh_0", SoC: 50}))
	require.NoError(t, b.RecordFacilityEvent(core.FacilityEvent{FacilityID: "cs_0"}))
	require.NoError(t, b.RecordLifecycleEvent(core.LifecycleEvent{VehicleID: "veh_0", Kind: core.LifecycleSpawned}))
	require.NoError(t, b.EndRun(core.RunSummary{StopReason: "horizon"}))
	require.NoError(t, b.Close())

	assert.Equal(t, []string{
		streaming.TypeStartRun,
		streaming.TypeAddVehicle,
		streaming.TypeTelemetry,
		streaming.TypeFacilityEvent,
		streaming.TypeLifecycleEvent,
		streaming.TypeEndRun,
	}, ml.types())
	assert.Equal(t, []string{""}, ml.auth(), "no secret sends no token")
}

func TestInit_SendsBearerToken(t *testing.T) {
	srv, ml := testServer(t)

	b := New(Config{URL: wsURL(srv), Secret: "s3cret"}, nil)
	require.NoError(t, b.Init())
	require.NoError(t, b.StartRun(&core.Run{}))
	require.NoError(t, b.Close())

	headers := ml.auth()
	require.Len(t, headers, 1)
	require.True(t, strings.HasPrefix(headers[0], "Bearer "))

	token, err := jwt.Parse(strings.TrimPrefix(headers[0], "Bearer "), func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	require.NoError(t, err)
	sub, err := token.Claims.GetSubject()
	require.NoError(t, err)
	assert.Equal(t, "fleetctl", sub)
}

func TestToken_Expires(t *testing.T) {
	signed, err := Token("k", time.Now().Add(-2*tokenTTL))
	require.NoError(t, err)

	_, err = jwt.Parse(signed, func(*jwt.Token) (any, error) { return []byte("k"), nil })
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/stream"}, nil)
	assert.Error(t, b.Init())
	require.NoError(t, b.Close())
}

func TestClose_Idempotent(t *testing.T) {
	srv, _ := testServer(t)
	b := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestQueueLengths(t *testing.T) {
	b := New(Config{}, nil)
	require.NoError(t, b.AddVehicle(core.Vehicle{ID: "veh_0"}))
	assert.Equal(t, map[string]int{"send": 1}, b.QueueLengths())
}

// flakyServer drops its first connection right after the first telemetry
// envelope and acks start_run/end_run on every connection.
func flakyServer(t *testing.T) (*httptest.Server, func() [][]string) {
	t.Helper()
	var (
		mu    sync.Mutex
		conns [][]string
		seq   atomic.Int32
	)
	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		n := int(seq.Add(1)) - 1
		mu.Lock()
		conns = append(conns, nil)
		mu.Unlock()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}
			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			mu.Lock()
			conns[n] = append(conns[n], env.Type)
			mu.Unlock()

			if n == 0 && env.Type == streaming.TypeTelemetry {
				return
			}
			if env.Type == streaming.TypeStartRun || env.Type == streaming.TypeEndRun {
				data, _ := json.Marshal(streaming.AckMessage{Type: "ack", For: env.Type})
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, func() [][]string {
		mu.Lock()
		defer mu.Unlock()
		out := make([][]string, len(conns))
		for i, c := range conns {
			out[i] = append([]string(nil), c...)
		}
		return out
	}
}

func TestReconnect_ReplaysRunAndAnnouncedVehicles(t *testing.T) {
	srv, received := flakyServer(t)

	b := New(Config{URL: wsURL(srv)}, nil)
	b.stream.backoff = 10 * time.Millisecond
	require.NoError(t, b.Init())

	require.NoError(t, b.StartRun(&core.Run{Name: "replay"}))
	require.NoError(t, b.AddVehicle(core.Vehicle{ID: "veh_0"}))
	require.NoError(t, b.AddVehicle(core.Vehicle{ID: "veh_1"}))
	require.NoError(t, b.RecordTelemetry(core.TelemetryRow{VehicleID: "veh_0"}))

	assert.Eventually(t, func() bool {
		c := received()
		return len(c) == 2 && len(c[1]) == 3
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.RecordTelemetry(core.TelemetryRow{VehicleID: "veh_1"}))
	require.NoError(t, b.EndRun(core.RunSummary{StopReason: "horizon"}))
	require.NoError(t, b.Close())

	c := received()
	require.Len(t, c, 2)
	assert.Equal(t, []string{
		streaming.TypeStartRun,
		streaming.TypeAddVehicle,
		streaming.TypeAddVehicle,
		streaming.TypeTelemetry,
	}, c[0])
	assert.Equal(t, []string{
		streaming.TypeStartRun,
		streaming.TypeAddVehicle,
		streaming.TypeAddVehicle,
		streaming.TypeTelemetry,
		streaming.TypeEndRun,
	}, c[1], "the new connection gets the run and its vehicles before new data")
}

func TestRequest_AfterCloseFails(t *testing.T) {
	srv, _ := testServer(t)
	b := New(Config{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())

	err := b.StartRun(&core.Run{})
	assert.ErrorIs(t, err, errStreamClosed)
}
