package config

import (
	"github.com/danmuck/wsharness/internal/server"
	"github.com/danmuck/wsharness/internal/session"
)

// ServerConfig maps the file schema onto the transport config.
func ServerConfig(cfg HarnessConfig) (server.Config, error) {
	role, err := session.ParseRole(cfg.Role)
	if err != nil {
		return server.Config{}, err
	}
	out := server.DefaultConfig()
	out.Role = role
	out.Addr = cfg.Addr
	out.Port = cfg.Port
	if cfg.Path != "" {
		out.Path = cfg.Path
	}
	if cfg.MaxPayloadBytes > 0 {
		out.MaxPayloadBytes = cfg.MaxPayloadBytes
	}
	out.CompressionEnabled = cfg.CompressionEnabled
	out.CorsOrigins = cfg.CorsOrigins
	if out.ReadTimeout, err = ParseDuration(cfg.ReadTimeout); err != nil {
		return server.Config{}, err
	}
	if out.WriteTimeout, err = ParseDuration(cfg.WriteTimeout); err != nil {
		return server.Config{}, err
	}
	out = out.WithDefaults()
	if err := out.Validate(); err != nil {
		return server.Config{}, err
	}
	return out, nil
}
