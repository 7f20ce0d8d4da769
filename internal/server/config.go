package server

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/wsharness/internal/session"
)

// Config is the transport-level surface of one harness server.
type Config struct {
	Role session.Role

	// Addr is host:port or a bare host. Port, when > 0, replaces the port
	// in Addr.
	Addr string
	Port int

	// Path is where the websocket endpoint is mounted.
	Path string

	MaxPayloadBytes    int64
	CompressionEnabled bool

	// ReadTimeout closes a connection that stays idle longer than this.
	// WriteTimeout bounds a single reply write. Zero disables either.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration

	// CorsOrigins limits admin CORS and websocket Origin checks. Empty
	// accepts any origin.
	CorsOrigins []string
}

// DefaultConfig returns receiver defaults.
func DefaultConfig() Config {
	return Config{
		Role:               session.RoleReceiver,
		Addr:               ":8080",
		Path:               "/",
		MaxPayloadBytes:    1 << 30,
		CompressionEnabled: false,
		ShutdownTimeout:    5 * time.Second,
	}
}

// DefaultPort returns the conventional port for role.
func DefaultPort(role session.Role) int {
	if role == session.RoleHandshake {
		return 5678
	}
	return 8080
}

// WithDefaults fills unset fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Role == "" {
		c.Role = def.Role
	}
	if c.Port <= 0 && !hasPort(c.Addr) {
		c.Port = DefaultPort(c.Role)
	}
	if strings.TrimSpace(c.Path) == "" {
		c.Path = def.Path
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.MaxPayloadBytes <= 0 {
		c.MaxPayloadBytes = def.MaxPayloadBytes
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	return c
}

// ListenAddr resolves Addr and Port into one host:port.
func (c Config) ListenAddr() (string, error) {
	addr := strings.TrimSpace(c.Addr)
	if c.Port <= 0 {
		if addr == "" {
			return "", fmt.Errorf("server: listen address not configured")
		}
		return addr, nil
	}
	if c.Port > 65535 {
		return "", fmt.Errorf("server: invalid port %d", c.Port)
	}
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	return net.JoinHostPort(host, strconv.Itoa(c.Port)), nil
}

// adminPaths are mounted next to the websocket endpoint.
var adminPaths = []string{"/health", "/ready", "/sessions", "/metrics"}

func isAdminPath(path string) bool {
	for _, p := range adminPaths {
		if path == p {
			return true
		}
	}
	return false
}

func hasPort(addr string) bool {
	_, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	return err == nil
}

// Validate reports configuration that cannot be served.
func (c Config) Validate() error {
	if _, err := session.ParseRole(string(c.Role)); err != nil {
		return err
	}
	if _, err := c.ListenAddr(); err != nil {
		return err
	}
	if isAdminPath(c.WithDefaults().Path) {
		return fmt.Errorf("server: path %q is reserved for an admin route", c.Path)
	}
	if c.MaxPayloadBytes <= 0 {
		return fmt.Errorf("server: max payload must be positive")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("server: timeouts must not be negative")
	}
	return nil
}

func (c Config) originAllowed(origin string) bool {
	if len(c.CorsOrigins) == 0 || origin == "" {
		return true
	}
	for _, o := range c.CorsOrigins {
		if o == "*" || strings.EqualFold(strings.TrimSpace(o), origin) {
			return true
		}
	}
	return false
}
