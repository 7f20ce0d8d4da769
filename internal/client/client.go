package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/wsharness/internal/protocol/envelope"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrURLRequired       = errors.New("client: url required")
	ErrAckTimeout        = errors.New("client: ack timeout")
	ErrAckMismatch       = errors.New("client: ack id mismatch")
	ErrHandshakeRejected = errors.New("client: handshake rejected")
	ErrConnClosed        = errors.New("client: connection closed")
)

// Config defines how a sender reaches a harness server.
type Config struct {
	URL                string
	Compression        bool
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	AckTimeout         time.Duration
	MaxConnectAttempts int
	Backoff            BackoffConfig
	Header             http.Header
}

// DefaultConfig returns sender defaults.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       15 * time.Second,
		AckTimeout:         20 * time.Second,
		MaxConnectAttempts: 5,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero durations and backoff from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = def.AckTimeout
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Client dials harness servers.
type Client struct {
	cfg    Config
	dialer websocket.Dialer
	rng    *rand.Rand
}

func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, ErrURLRequired
	}
	cfg = cfg.WithDefaults()
	return &Client{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  cfg.ConnectTimeout,
			EnableCompression: cfg.Compression,
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the server, retrying with backoff until MaxConnectAttempts
// is exhausted. MaxConnectAttempts <= 0 retries until ctx is done.
func (c *Client) Connect(ctx context.Context) (*Conn, error) {
	var attempt int
	for {
		attempt++
		ws, _, err := c.dialer.DialContext(ctx, c.cfg.URL, c.cfg.Header)
		if err == nil {
			log.Debug().Str("url", c.cfg.URL).Int("attempt", attempt).Msg("connected")
			return &Conn{ws: ws, cfg: c.cfg}, nil
		}
		log.Warn().Err(err).Int("attempt", attempt).Str("url", c.cfg.URL).Msg("dial failed")
		if !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := c.cfg.Backoff.Delay(attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Conn is one live sender connection. Calls are serialized; a timed out
// read leaves the connection unusable and it should be closed.
type Conn struct {
	ws     *websocket.Conn
	cfg    Config
	nextID atomic.Int64
	mu     sync.Mutex
	closed bool
}

// Close sends a normal closure and releases the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

// SendFile reads path and sends it under its base name.
func (c *Conn) SendFile(ctx context.Context, path string) (envelope.Ack, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return envelope.Ack{}, err
	}
	return c.Send(ctx, filepath.Base(path), content)
}

// Send transfers content as name and waits for the matching ack.
func (c *Conn) Send(ctx context.Context, name string, content []byte) (envelope.Ack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return envelope.Ack{}, ErrConnClosed
	}

	id := strconv.FormatInt(c.nextID.Add(1), 10)
	env := envelope.NewTransfer([]byte(id), name, content)
	start := time.Now()
	if err := c.write(ctx, env); err != nil {
		return envelope.Ack{}, err
	}
	raw, err := c.read(ctx)
	if err != nil {
		return envelope.Ack{}, err
	}
	ack, err := envelope.DecodeAck(raw)
	if err != nil {
		return envelope.Ack{}, err
	}
	if strings.TrimSpace(string(ack.ID)) != id {
		return ack, fmt.Errorf("%w: sent=%s acked=%s", ErrAckMismatch, id, ack.ID)
	}
	log.Debug().
		Str("id", id).
		Str("filename", name).
		Int("bytes", len(content)).
		Dur("rtt", time.Since(start)).
		Msg("transfer acked")
	return ack, nil
}

// Handshake drives the two-step auth exchange and returns the server's
// nonce and version.
func (c *Conn) Handshake(ctx context.Context) (envelope.HandshakeData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return envelope.HandshakeData{}, ErrConnClosed
	}

	first, err := c.roundTrip(ctx, envelope.Request(0, envelope.ActionHandshake, nil), envelope.HandshakeReplyID, envelope.ActionHandshakeOK)
	if err != nil {
		return envelope.HandshakeData{}, err
	}
	data, err := envelope.HandshakeDataOf(first)
	if err != nil {
		return envelope.HandshakeData{}, err
	}
	if _, err := c.roundTrip(ctx, envelope.Request(1, envelope.ActionAuthenticate, nil), envelope.AuthenticateReplyID, envelope.ActionAuthenticateOK); err != nil {
		return envelope.HandshakeData{}, err
	}
	log.Debug().Str("nonce", data.Nonce).Str("version", data.Version).Msg("authenticated")
	return data, nil
}

// Publish sends one post-auth message. The simulator never replies.
func (c *Conn) Publish(ctx context.Context, channel string, message any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	body := map[string]any{"channel": channel, "message": message}
	return c.write(ctx, envelope.Request(int(c.nextID.Add(1)), envelope.ActionPublish, body))
}

func (c *Conn) roundTrip(ctx context.Context, req envelope.Reply, wantID int64, wantAction string) (envelope.Handshake, error) {
	if err := c.write(ctx, req); err != nil {
		return envelope.Handshake{}, err
	}
	raw, err := c.read(ctx)
	if err != nil {
		return envelope.Handshake{}, err
	}
	reply, err := envelope.DecodeReply(raw)
	if err != nil {
		return envelope.Handshake{}, err
	}
	if *reply.ID != wantID || reply.Action != wantAction {
		return reply, fmt.Errorf("%w: id=%d action=%q", ErrHandshakeRejected, *reply.ID, reply.Action)
	}
	return reply, nil
}

func (c *Conn) write(ctx context.Context, v any) error {
	payload, err := envelope.Encode(v)
	if err != nil {
		return err
	}
	_ = c.ws.SetWriteDeadline(deadline(ctx, c.cfg.WriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *Conn) read(ctx context.Context) ([]byte, error) {
	_ = c.ws.SetReadDeadline(deadline(ctx, c.cfg.AckTimeout))
	_, raw, err := c.ws.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrAckTimeout, err)
		}
		return nil, err
	}
	return raw, nil
}

func deadline(ctx context.Context, timeout time.Duration) time.Time {
	d := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return d
}
