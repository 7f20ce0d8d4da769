package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/wsharness/internal/observability"
	"github.com/danmuck/wsharness/internal/server"
	"github.com/danmuck/wsharness/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "harnessctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	factory, err := cfg.factory()
	if err != nil {
		return err
	}

	logger := observability.InitLogger("harnessctl")
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := server.NewManager(cfg.Server, factory)
	logger.Info().
		Str("role", string(cfg.Server.Role)).
		Str("store_root", cfg.StoreRoot).
		Bool("gate_on_digest", cfg.Receiver.GateOnDigest).
		Bool("ack_on_store_error", cfg.Receiver.AckOnStoreError).
		Msg("harness starting")
	return m.Run(ctx)
}

// parseFlags loads the optional config file, then applies explicitly set
// flags on top of it.
func parseFlags(args []string) (runtimeConfig, error) {
	fs := pflag.NewFlagSet("harnessctl", pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "path to harness config.toml")
	role := fs.StringP("role", "r", "", "server role: receiver|handshake")
	addr := fs.String("addr", "", "listen host or host:port")
	port := fs.IntP("port", "p", 0, "listen port (defaults to 8080 receiver, 5678 handshake)")
	storeRoot := fs.String("store-root", "", "directory received files are written into")
	maxPayload := fs.Int64("max-payload-bytes", 0, "largest accepted frame")
	compression := fs.Bool("compression", false, "negotiate permessage-deflate")
	noGate := fs.Bool("no-digest-gate", false, "store and ack frames whose digest does not match")
	if err := fs.Parse(args); err != nil {
		return runtimeConfig{}, err
	}

	cfg := defaultRuntimeConfig()
	if *configPath != "" {
		loaded, err := loadRuntimeConfig(*configPath)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg = loaded
	}
	if fs.Changed("role") {
		r, err := session.ParseRole(*role)
		if err != nil {
			return runtimeConfig{}, err
		}
		cfg.Server.Role = r
	}
	if fs.Changed("addr") {
		cfg.Server.Addr = *addr
	}
	if fs.Changed("port") {
		cfg.Server.Port = *port
	}
	if fs.Changed("store-root") {
		cfg.StoreRoot = *storeRoot
	}
	if fs.Changed("max-payload-bytes") {
		cfg.Server.MaxPayloadBytes = *maxPayload
	}
	if fs.Changed("compression") {
		cfg.Server.CompressionEnabled = *compression
	}
	if fs.Changed("no-digest-gate") {
		cfg.Receiver.GateOnDigest = !*noGate
	}
	cfg.Server = cfg.Server.WithDefaults()
	if err := cfg.Server.Validate(); err != nil {
		return runtimeConfig{}, err
	}
	return cfg, nil
}
