package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wsharness/internal/observability"
	"github.com/danmuck/wsharness/internal/protocol/envelope"
	"github.com/danmuck/wsharness/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrNoSessionFactory = errors.New("server: no session factory configured")

// Handle binds one accepted transport connection to its session.
type Handle struct {
	ID      string
	Remote  string
	Opened  time.Time
	Session session.Session

	ws *websocket.Conn
}

// ConnInfo is the public snapshot of one open connection.
type ConnInfo struct {
	ID     string    `json:"id"`
	Role   string    `json:"role"`
	Remote string    `json:"remote"`
	Opened time.Time `json:"opened"`
}

// Manager accepts websocket connections and drives one session per
// connection. Frames of a connection are handled in arrival order on that
// connection's goroutine; connections run independently.
type Manager struct {
	cfg      Config
	factory  session.Factory
	upgrader websocket.Upgrader
	router   *gin.Engine
	started  time.Time

	connsMu sync.Mutex
	conns   map[string]*Handle

	active atomic.Int64
}

// NewManager wires the upgrader and HTTP routes for cfg.
func NewManager(cfg Config, factory session.Factory) *Manager {
	cfg = cfg.WithDefaults()
	m := &Manager{
		cfg:     cfg,
		factory: factory,
		conns:   make(map[string]*Handle),
		started: time.Now(),
	}
	m.upgrader = websocket.Upgrader{
		EnableCompression: cfg.CompressionEnabled,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.originAllowed(r.Header.Get("Origin"))
		},
	}
	m.router = m.newRouter()
	return m
}

// Config returns the resolved configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Router exposes the HTTP handler serving the websocket endpoint and admin
// routes.
func (m *Manager) Router() *gin.Engine {
	return m.router
}

// ActiveConnections returns the number of open sessions.
func (m *Manager) ActiveConnections() int64 {
	return m.active.Load()
}

// Run listens on the configured address and serves until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}
	addr, err := m.cfg.ListenAddr()
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Info().
		Str("role", string(m.cfg.Role)).
		Str("addr", ln.Addr().String()).
		Str("path", m.cfg.Path).
		Int64("max_payload_bytes", m.cfg.MaxPayloadBytes).
		Bool("compression", m.cfg.CompressionEnabled).
		Msg("harness listening")
	return m.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done. Open websocket sessions
// are closed with a going-away close frame on shutdown.
func (m *Manager) Serve(ctx context.Context, ln net.Listener) error {
	if m.factory == nil {
		_ = ln.Close()
		return ErrNoSessionFactory
	}
	srv := &http.Server{
		Handler:           m.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		m.closeAllConns()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ServeWS upgrades one request and runs its read loop until the peer goes
// away. It blocks for the lifetime of the connection.
func (m *Manager) ServeWS(w http.ResponseWriter, r *http.Request) {
	if m.factory == nil {
		http.Error(w, ErrNoSessionFactory.Error(), http.StatusServiceUnavailable)
		return
	}
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}
	h := m.OnConnect(ws)
	defer m.OnDisconnect(h)

	ctx := r.Context()
	for {
		if m.cfg.ReadTimeout > 0 {
			_ = ws.SetReadDeadline(time.Now().Add(m.cfg.ReadTimeout))
		}
		_, raw, err := ws.ReadMessage()
		if err != nil {
			logClose(h, err)
			return
		}
		if err := m.OnFrame(ctx, h, raw); err != nil {
			log.Warn().Err(err).Str("conn", h.ID).Msg("reply write failed")
			return
		}
	}
}

// OnConnect creates the session owned by ws.
func (m *Manager) OnConnect(ws *websocket.Conn) *Handle {
	ws.SetReadLimit(m.cfg.MaxPayloadBytes)
	if m.cfg.CompressionEnabled {
		ws.EnableWriteCompression(true)
	}
	id := uuid.NewString()
	h := &Handle{
		ID:      id,
		Remote:  ws.RemoteAddr().String(),
		Opened:  time.Now(),
		Session: m.factory(id),
		ws:      ws,
	}
	m.connsMu.Lock()
	m.conns[id] = h
	m.connsMu.Unlock()

	active := m.active.Add(1)
	observability.ConnectionOpened(string(m.cfg.Role))
	log.Info().
		Str("conn", id).
		Str("remote", h.Remote).
		Str("role", string(m.cfg.Role)).
		Int64("active_clients", active).
		Msg("client connected")
	return h
}

// OnFrame hands raw to the session and writes its reply, if any. Only a
// transport write failure is returned; rejected frames are logged by the
// session and leave the connection open.
func (m *Manager) OnFrame(ctx context.Context, h *Handle, raw []byte) error {
	reply, err := h.Session.HandleFrame(ctx, raw)
	if err != nil || reply == nil {
		return nil
	}
	payload, err := envelope.Encode(reply)
	if err != nil {
		log.Error().Err(err).Str("conn", h.ID).Msg("reply encode failed")
		return nil
	}
	if m.cfg.WriteTimeout > 0 {
		_ = h.ws.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	}
	return h.ws.WriteMessage(websocket.TextMessage, payload)
}

// OnDisconnect drops the session. Nothing about it is retained.
func (m *Manager) OnDisconnect(h *Handle) {
	m.connsMu.Lock()
	delete(m.conns, h.ID)
	m.connsMu.Unlock()
	_ = h.ws.Close()

	remaining := m.active.Add(-1)
	observability.ConnectionClosed(string(m.cfg.Role))
	log.Info().
		Str("conn", h.ID).
		Str("remote", h.Remote).
		Dur("lifetime", time.Since(h.Opened)).
		Int64("active_clients", remaining).
		Msg("client disconnected")
}

// Connections returns open connections ordered by open time.
func (m *Manager) Connections() []ConnInfo {
	m.connsMu.Lock()
	out := make([]ConnInfo, 0, len(m.conns))
	for _, h := range m.conns {
		out = append(out, ConnInfo{
			ID:     h.ID,
			Role:   string(h.Session.Role()),
			Remote: h.Remote,
			Opened: h.Opened,
		})
	}
	m.connsMu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Opened.Before(out[j].Opened)
	})
	return out
}

func (m *Manager) closeAllConns() {
	m.connsMu.Lock()
	handles := make([]*Handle, 0, len(m.conns))
	for _, h := range m.conns {
		handles = append(handles, h)
	}
	m.connsMu.Unlock()

	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, h := range handles {
		_ = h.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = h.ws.Close()
	}
}

func logClose(h *Handle, err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		log.Info().
			Str("conn", h.ID).
			Int("code", closeErr.Code).
			Str("reason", closeErr.Text).
			Msg("connection closed")
		return
	}
	log.Debug().Err(err).Str("conn", h.ID).Msg("read loop ended")
}
