package client

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/wsharness/internal/protocol/envelope"
	"github.com/danmuck/wsharness/internal/server"
	"github.com/danmuck/wsharness/internal/session"
	"github.com/danmuck/wsharness/internal/store"
	"github.com/danmuck/wsharness/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

func newTestServerOrSkip(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	func() {
		defer func() {
			if r := recover(); r != nil {
				srv = nil
			}
		}()
		srv = httptest.NewServer(handler)
	}()
	if srv == nil {
		t.Skip("skipping listener test in restricted environment")
	}
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/"
}

func connect(t *testing.T, url string) *Conn {
	t.Helper()
	c, err := New(Config{URL: url, MaxConnectAttempts: 1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	conn, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestBackoffDelayDeterministicNoJitter(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(3, nil); got != time.Second {
		t.Fatalf("attempt3 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
	if got := (BackoffConfig{}).Delay(3, nil); got != 0 {
		t.Fatalf("zero config got=%v", got)
	}
	if got := (BackoffConfig{InitialDelay: time.Second, Multiplier: 0.5}).Delay(4, nil); got != time.Second {
		t.Fatalf("multiplier below one must not shrink, got=%v", got)
	}
}

func TestBackoffDelayJitterRange(t *testing.T) {
	cfg := BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     time.Second,
		Jitter:       true,
	}
	rng := rand.New(rand.NewSource(1))
	for attempt := 2; attempt < 8; attempt++ {
		got := cfg.Delay(attempt, rng)
		if got < 0 || got > 1500*time.Millisecond {
			t.Fatalf("attempt%d jittered delay out of range: %v", attempt, got)
		}
	}
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
}

func TestSendStoresAndMatchesAck(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	m := server.NewManager(
		server.Config{Role: session.RoleReceiver},
		session.NewReceiverFactory(session.DefaultReceiverConfig(store.NewFileStore(root))),
	)
	srv := newTestServerOrSkip(t, m.Router())
	conn := connect(t, wsURL(srv))

	for i, content := range []string{"hello", "", "second file"} {
		ack, err := conn.Send(context.Background(), "out.bin", []byte(content))
		if err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
		if want := []byte{byte('1' + i)}; string(ack.ID) != string(want) {
			t.Fatalf("send %d: ack id=%s", i, ack.ID)
		}
		got, err := os.ReadFile(filepath.Join(root, "out.bin"))
		if err != nil || string(got) != content {
			t.Fatalf("send %d: stored=%q err=%v", i, got, err)
		}
	}
}

func TestSendFileUsesBaseName(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	m := server.NewManager(
		server.Config{Role: session.RoleReceiver},
		session.NewReceiverFactory(session.DefaultReceiverConfig(store.NewFileStore(root))),
	)
	srv := newTestServerOrSkip(t, m.Router())
	conn := connect(t, wsURL(srv))

	src := filepath.Join(t.TempDir(), "nested", "payload.txt")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(src, []byte("from disk"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if _, err := conn.SendFile(context.Background(), src); err != nil {
		t.Fatalf("send file: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(root, "payload.txt"))
	if err != nil || string(got) != "from disk" {
		t.Fatalf("stored=%q err=%v", got, err)
	}
	if _, err := conn.SendFile(context.Background(), filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestSendTimesOutWhenStoreFailsSilently(t *testing.T) {
	gin.SetMode(gin.TestMode)
	root := t.TempDir()
	blocker := filepath.Join(root, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cfg := session.DefaultReceiverConfig(store.NewFileStore(blocker))
	cfg.AckOnStoreError = false
	m := server.NewManager(server.Config{Role: session.RoleReceiver}, session.NewReceiverFactory(cfg))
	srv := newTestServerOrSkip(t, m.Router())

	c, err := New(Config{URL: wsURL(srv), AckTimeout: 200 * time.Millisecond, MaxConnectAttempts: 1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	conn, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	if _, err := conn.Send(context.Background(), "a.bin", []byte("data")); !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", err)
	}
}

func TestHandshakeAndPublish(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	observed := make(chan []byte, 1)
	m := server.NewManager(
		server.Config{Role: session.RoleHandshake},
		session.NewHandshakeFactory(session.HandshakeConfig{
			Observer: func(_ string, raw []byte) { observed <- raw },
		}),
	)
	srv := newTestServerOrSkip(t, m.Router())
	conn := connect(t, wsURL(srv))

	data, err := conn.Handshake(context.Background())
	if err != nil {
		t.Fatalf("handshake: %v", err)
	}
	if data.Nonce != envelope.DefaultNonce || data.Version != envelope.DefaultVersion {
		t.Fatalf("unexpected handshake data: %+v", data)
	}
	if err := conn.Publish(context.Background(), "test", "hi"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case raw := <-observed:
		if !strings.Contains(string(raw), envelope.ActionPublish) {
			t.Fatalf("unexpected observed frame %s", raw)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("publish not observed")
	}
}

func TestHandshakeRejectsReceiverReplies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := server.NewManager(
		server.Config{Role: session.RoleReceiver},
		session.NewReceiverFactory(session.DefaultReceiverConfig(store.NewFileStore(t.TempDir()))),
	)
	srv := newTestServerOrSkip(t, m.Router())
	c, err := New(Config{URL: wsURL(srv), AckTimeout: 200 * time.Millisecond, MaxConnectAttempts: 1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	conn, err := c.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer conn.Close()
	// a receiver drops handshake frames, so no reply arrives
	if _, err := conn.Handshake(context.Background()); !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", err)
	}
}

func TestConnectRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("listen not permitted: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c, err := New(Config{
		URL:                "ws://" + addr + "/",
		MaxConnectAttempts: 3,
		Backoff:            BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	start := time.Now()
	if _, err := c.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial failure")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("retries took too long")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c.cfg.MaxConnectAttempts = 0
	if _, err := c.Connect(ctx); err == nil {
		t.Fatalf("expected canceled connect to fail")
	}
}

func TestClosedConnRejectsCalls(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := server.NewManager(server.Config{Role: session.RoleHandshake}, session.NewHandshakeFactory(session.HandshakeConfig{}))
	srv := newTestServerOrSkip(t, m.Router())
	conn := connect(t, wsURL(srv))
	if err := conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		t.Fatalf("close: %v", err)
	}
	if _, err := conn.Send(context.Background(), "a", nil); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
	if err := conn.Publish(context.Background(), "c", "m"); !errors.Is(err, ErrConnClosed) {
		t.Fatalf("expected ErrConnClosed, got %v", err)
	}
}
