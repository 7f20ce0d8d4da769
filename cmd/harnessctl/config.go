package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/wsharness/internal/server"
	"github.com/danmuck/wsharness/internal/session"
	"github.com/danmuck/wsharness/internal/store"
)

// harnessctl config.toml key mapping to server and session settings.
type fileConfig struct {
	Role               string   `toml:"role"`
	Addr               string   `toml:"addr"`
	Port               int      `toml:"port"`
	Path               string   `toml:"path"`
	MaxPayloadBytes    int64    `toml:"max_payload_bytes"`
	CompressionEnabled bool     `toml:"compression_enabled"`
	ReadTimeout        string   `toml:"read_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	CorsOrigins        []string `toml:"cors_origins"`
	StoreRoot          string   `toml:"store_root"`
	GateOnDigest       bool     `toml:"gate_on_digest"`
	AckOnStoreError    bool     `toml:"ack_on_store_error"`
	StoreWriteTimeout  string   `toml:"store_write_timeout"`
	Nonce              string   `toml:"nonce"`
	Version            string   `toml:"version"`
}

type runtimeConfig struct {
	Server    server.Config
	StoreRoot string
	Receiver  session.ReceiverConfig
	Handshake session.HandshakeConfig
}

func defaultRuntimeConfig() runtimeConfig {
	srv := server.DefaultConfig()
	// the listen port follows the role unless configured
	srv.Addr = ""
	return runtimeConfig{
		Server:    srv,
		StoreRoot: ".",
		Receiver:  session.DefaultReceiverConfig(nil),
		Handshake: session.DefaultHandshakeConfig(),
	}
}

// harnessctl loader for TOML config with default overlay.
func loadRuntimeConfig(path string) (runtimeConfig, error) {
	cfg := defaultRuntimeConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return runtimeConfig{}, fmt.Errorf("load harness config: %w", err)
	}

	if meta.IsDefined("role") {
		role, err := session.ParseRole(raw.Role)
		if err != nil {
			return runtimeConfig{}, fmt.Errorf("load harness config: %w", err)
		}
		cfg.Server.Role = role
	}
	if meta.IsDefined("addr") {
		cfg.Server.Addr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("port") {
		cfg.Server.Port = raw.Port
	}
	if meta.IsDefined("path") {
		cfg.Server.Path = strings.TrimSpace(raw.Path)
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes < 0 {
			return runtimeConfig{}, fmt.Errorf("load harness config: max_payload_bytes must not be negative")
		}
		cfg.Server.MaxPayloadBytes = raw.MaxPayloadBytes
	}
	if meta.IsDefined("compression_enabled") {
		cfg.Server.CompressionEnabled = raw.CompressionEnabled
	}
	if meta.IsDefined("read_timeout") {
		if cfg.Server.ReadTimeout, err = parseDuration("read_timeout", raw.ReadTimeout); err != nil {
			return runtimeConfig{}, err
		}
	}
	if meta.IsDefined("write_timeout") {
		if cfg.Server.WriteTimeout, err = parseDuration("write_timeout", raw.WriteTimeout); err != nil {
			return runtimeConfig{}, err
		}
	}
	if meta.IsDefined("cors_origins") {
		cfg.Server.CorsOrigins = raw.CorsOrigins
	}
	if meta.IsDefined("store_root") {
		cfg.StoreRoot = strings.TrimSpace(raw.StoreRoot)
	}
	if meta.IsDefined("gate_on_digest") {
		cfg.Receiver.GateOnDigest = raw.GateOnDigest
	}
	if meta.IsDefined("ack_on_store_error") {
		cfg.Receiver.AckOnStoreError = raw.AckOnStoreError
	}
	if meta.IsDefined("store_write_timeout") {
		if cfg.Receiver.WriteTimeout, err = parseDuration("store_write_timeout", raw.StoreWriteTimeout); err != nil {
			return runtimeConfig{}, err
		}
	}
	if meta.IsDefined("nonce") {
		cfg.Handshake.Nonce = strings.TrimSpace(raw.Nonce)
	}
	if meta.IsDefined("version") {
		cfg.Handshake.Version = strings.TrimSpace(raw.Version)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return runtimeConfig{}, fmt.Errorf("load harness config: unknown key %q", undecoded[0].String())
	}
	if cfg.Server.Role == session.RoleReceiver && cfg.StoreRoot == "" {
		return runtimeConfig{}, fmt.Errorf("load harness config: store_root is required for the receiver role")
	}
	return cfg, nil
}

func parseDuration(key, val string) (time.Duration, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("load harness config: %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("load harness config: %s must not be negative", key)
	}
	return d, nil
}

// factory builds the per-connection session constructor for the role.
func (c runtimeConfig) factory() (session.Factory, error) {
	switch c.Server.Role {
	case session.RoleHandshake:
		return session.NewHandshakeFactory(c.Handshake), nil
	case session.RoleReceiver:
		rc := c.Receiver
		rc.Store = store.NewFileStore(c.StoreRoot)
		return session.NewReceiverFactory(rc), nil
	default:
		return nil, fmt.Errorf("unknown role %q", c.Server.Role)
	}
}
