// Package gateway accepts WebSocket connections, decodes client frames and
// hands them to the coordinator. Outbound frames are written by a per
// connection writer goroutine.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/pairchat/internal/common"
	"github.com/dmitrijs2005/pairchat/internal/logging"
	"github.com/dmitrijs2005/pairchat/internal/server/coordinator"
	"github.com/dmitrijs2005/pairchat/internal/server/protocol"
	"github.com/gorilla/websocket"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
	DefaultSendBuffer   = 64
	DefaultMaxFrameSize = 64 << 10

	shutdownTimeout = 5 * time.Second
	connIDBytes     = 8
)

// Coordinator receives connection events.
type Coordinator interface {
	Connect(ctx context.Context, conn coordinator.Conn) error
	Dispatch(ctx context.Context, connID string, in protocol.Inbound) error
	Disconnect(ctx context.Context, connID string) error
}

// Options configure a Gateway. ReadTimeout is the heartbeat window: a
// connection that delivers no frame, pongs included, within it is dropped.
type Options struct {
	Address      string
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
	MaxFrameSize int64
}

func (o *Options) withDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = DefaultReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.MaxFrameSize <= 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}
}

type Gateway struct {
	opts     Options
	coord    Coordinator
	logger   logging.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsConn
}

func New(coord Coordinator, logger logging.Logger, opts Options) *Gateway {
	opts.withDefaults()
	g := &Gateway{
		opts:   opts,
		coord:  coord,
		logger: logger.With("module", "gateway"),
		conns:  make(map[string]*wsConn),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return g
}

// Handler serves /ws and a plain /health probe.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", g.serveWS)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Run listens on Options.Address until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.opts.Address)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		g.logger.Info(ctx, "Stopping gateway...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			g.logger.Warn(ctx, "gateway shutdown", "error", err)
		}
		g.closeAll()
	}()

	g.logger.Info(ctx, "Starting gateway", "address", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) serveWS(w http.ResponseWriter, r *http.Request) {
	id, err := common.MakeRandHexString(connIDBytes)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug(r.Context(), "upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	ctx := r.Context()
	c := newConn("c_"+id, ws, g.opts.SendBuffer)
	g.track(c)
	defer g.untrack(c)

	if err := g.coord.Connect(ctx, c); err != nil {
		g.logger.Warn(ctx, "connect rejected", "conn", c.id, "error", err)
		_ = ws.Close()
		return
	}
	g.logger.Debug(ctx, "connection accepted", "conn", c.id, "remote", r.RemoteAddr)

	go g.writePump(ctx, c)
	g.readPump(ctx, c)

	if err := g.coord.Disconnect(context.WithoutCancel(ctx), c.id); err != nil {
		g.logger.Debug(ctx, "disconnect not delivered", "conn", c.id, "error", err)
	}
}

func (g *Gateway) readPump(ctx context.Context, c *wsConn) {
	defer c.close()

	c.ws.SetReadLimit(g.opts.MaxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed() {
				g.logger.Debug(ctx, "read failed", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))

		in, err := protocol.Decode(data)
		if err != nil {
			_ = c.Send(protocol.ErrorFrom(err))
			continue
		}
		if err := g.coord.Dispatch(ctx, c.id, in); err != nil {
			g.logger.Warn(ctx, "dispatch failed", "conn", c.id, "error", err)
			return
		}
	}
}

func (g *Gateway) writePump(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(g.opts.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(g.opts.WriteTimeout))
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(g.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				g.logger.Debug(ctx, "write failed", "conn", c.id, "error", err)
				c.close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.opts.WriteTimeout)); err != nil {
				c.close()
				return
			}
		}
	}
}

func (g *Gateway) track(c *wsConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.conns[c.id] = c
}

func (g *Gateway) untrack(c *wsConn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.conns, c.id)
}

// closeAll closes every live connection; hijacked connections are not
// covered by http.Server.Shutdown.
func (g *Gateway) closeAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.conns {
		c.close()
	}
}
