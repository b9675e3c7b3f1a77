package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/logging"
	"github.com/dmitrijs2005/pairchat/internal/server/coordinator"
	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a Coordinator that records events and answers pings.
type recorder struct {
	mu           sync.Mutex
	conns        map[string]coordinator.Conn
	dispatched   []protocol.Inbound
	disconnected []string
}

func newRecorder() *recorder {
	return &recorder{conns: map[string]coordinator.Conn{}}
}

func (r *recorder) Connect(ctx context.Context, conn coordinator.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn.ID()] = conn
	return nil
}

func (r *recorder) Dispatch(ctx context.Context, connID string, in protocol.Inbound) error {
	r.mu.Lock()
	r.dispatched = append(r.dispatched, in)
	conn := r.conns[connID]
	r.mu.Unlock()

	if _, ok := in.(*protocol.Ping); ok {
		return conn.Send(protocol.Pong{Ms: 7})
	}
	return nil
}

func (r *recorder) Disconnect(ctx context.Context, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected = append(r.disconnected, connID)
	return nil
}

func (r *recorder) counts() (conns, dispatched, disconnected int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns), len(r.dispatched), len(r.disconnected)
}

func startGateway(t *testing.T, rec *recorder, opts Options) *httptest.Server {
	t.Helper()
	g := New(rec, logging.Discard(), opts)
	srv := httptest.NewServer(g.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestGateway_RoundTrip(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, startGateway(t, rec, Options{}))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"pong","ms":7}`, string(data))

	conns, dispatched, _ := rec.counts()
	assert.Equal(t, 1, conns)
	assert.Equal(t, 1, dispatched)
}

func TestGateway_InvalidFrameAnsweredWithError(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, startGateway(t, rec, Options{}))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"teleport"}`)))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"error"`)
	assert.Contains(t, string(data), `"code":"protocol"`)

	// The connection stays open for further frames.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	_, data, err = ws.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"pong"`)

	_, dispatched, _ := rec.counts()
	assert.Equal(t, 1, dispatched)
}

func TestGateway_CloseReportsDisconnect(t *testing.T) {
	rec := newRecorder()
	ws := dial(t, startGateway(t, rec, Options{}))

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, ws.WriteMessage(websocket.CloseMessage, msg))

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1
	}, 2*time.Second, 10*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	id := rec.disconnected[0]
	assert.Contains(t, rec.conns, id)
	assert.Regexp(t, `^c_[0-9a-f]{16}$`, id)
}

func TestGateway_HeartbeatTimeoutDisconnects(t *testing.T) {
	rec := newRecorder()
	// Pings are effectively disabled and the client never reads, so no
	// pong ever arrives.
	dial(t, startGateway(t, rec, Options{ReadTimeout: 150 * time.Millisecond, PingInterval: time.Hour}))

	require.Eventually(t, func() bool {
		_, _, disconnected := rec.counts()
		return disconnected == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGateway_Health(t *testing.T) {
	srv := startGateway(t, newRecorder(), Options{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGateway_HealthOpensNoSession(t *testing.T) {
	rec := newRecorder()
	srv := startGateway(t, rec, Options{})

	for i := 0; i < 3; i++ {
		resp, err := http.Get(srv.URL + "/health")
		require.NoError(t, err)
		resp.Body.Close()
	}

	conns, _, disconnected := rec.counts()
	assert.Zero(t, conns)
	assert.Zero(t, disconnected)
}

func TestGateway_ServeStopsOnCancel(t *testing.T) {
	g := New(newRecorder(), logging.Discard(), Options{Address: "127.0.0.1:0"})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("gateway exited too early: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop after cancel")
	}
}

func TestGateway_RunFailsOnBadAddress(t *testing.T) {
	g := New(newRecorder(), logging.Discard(), Options{Address: "127.0.0.1:99999"})
	assert.Error(t, g.Run(context.Background()))
}

func TestConn_SendClosesSlowConsumer(t *testing.T) {
	c := newConn("c1", nil, 1)

	require.NoError(t, c.Send(protocol.OnlineCount{Count: 1}))
	assert.ErrorIs(t, c.Send(protocol.OnlineCount{Count: 2}), errSlowConsumer)
	assert.True(t, c.closed())
	assert.ErrorIs(t, c.Send(protocol.OnlineCount{Count: 3}), errConnClosed)

	assert.JSONEq(t, `{"type":"online_count","count":1}`, string(<-c.send))
}
