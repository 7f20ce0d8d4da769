package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// HarnessConfig is the on-disk schema shared by both server roles.
// Durations are Go duration strings ("5s", "250ms").
type HarnessConfig struct {
	Role               string   `toml:"role"`
	Addr               string   `toml:"addr"`
	Port               int      `toml:"port"`
	Path               string   `toml:"path"`
	MaxPayloadBytes    int64    `toml:"max_payload_bytes"`
	CompressionEnabled bool     `toml:"compression_enabled"`
	ReadTimeout        string   `toml:"read_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	CorsOrigins        []string `toml:"cors_origins"`

	// receiver
	StoreRoot         *string `toml:"store_root"`
	GateOnDigest      *bool   `toml:"gate_on_digest"`
	AckOnStoreError   *bool   `toml:"ack_on_store_error"`
	StoreWriteTimeout string  `toml:"store_write_timeout"`

	// handshake
	Nonce   string `toml:"nonce"`
	Version string `toml:"version"`
}

func LoadHarnessConfig(path string) (HarnessConfig, error) {
	var cfg HarnessConfig
	if err := loadToml(path, &cfg); err != nil {
		return HarnessConfig{}, err
	}
	cfg.Role = strings.ToLower(strings.TrimSpace(cfg.Role))
	if cfg.Role == "" {
		cfg.Role = "receiver"
	}
	if cfg.StoreRoot == nil {
		root := "."
		cfg.StoreRoot = &root
	}
	if err := ValidateHarnessConfig(cfg); err != nil {
		return HarnessConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateHarnessConfig(cfg HarnessConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Role)) {
	case "receiver":
		if cfg.StoreRoot == nil || strings.TrimSpace(*cfg.StoreRoot) == "" {
			return fmt.Errorf("receiver config missing store_root")
		}
	case "handshake":
	default:
		return fmt.Errorf("unknown role %q (expected receiver or handshake)", cfg.Role)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("port out of range: %d", cfg.Port)
	}
	if cfg.MaxPayloadBytes < 0 {
		return fmt.Errorf("max_payload_bytes must not be negative")
	}
	for key, val := range map[string]string{
		"read_timeout":        cfg.ReadTimeout,
		"write_timeout":       cfg.WriteTimeout,
		"store_write_timeout": cfg.StoreWriteTimeout,
	} {
		if _, err := ParseDuration(val); err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
	}
	return nil
}

// ParseDuration treats an empty value as zero.
func ParseDuration(val string) (time.Duration, error) {
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", val)
	}
	return d, nil
}
