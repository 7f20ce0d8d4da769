package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/wsharness/internal/client"
	"github.com/danmuck/wsharness/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

type options struct {
	URL         string
	Conns       int
	Handshake   bool
	Channel     string
	Publish     []string
	AckTimeout  time.Duration
	Attempts    int
	Compression bool
	Files       []string
}

func main() {
	observability.InitLogger("sendctl")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "sendctl: %v\n", err)
		os.Exit(1)
	}
}

func parseOptions(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("sendctl", pflag.ContinueOnError)
	fs.StringVarP(&opts.URL, "url", "u", "ws://127.0.0.1:8080/", "harness websocket url")
	fs.IntVarP(&opts.Conns, "conns", "n", 1, "parallel connections files are spread across")
	fs.BoolVar(&opts.Handshake, "handshake", false, "run the auth handshake instead of sending files")
	fs.StringVar(&opts.Channel, "channel", "test", "channel for --publish messages")
	fs.StringArrayVar(&opts.Publish, "publish", nil, "message to publish after the handshake (repeatable)")
	fs.DurationVar(&opts.AckTimeout, "ack-timeout", 20*time.Second, "how long to wait for each reply")
	fs.IntVar(&opts.Attempts, "attempts", 5, "dial attempts before giving up (0 retries forever)")
	fs.BoolVar(&opts.Compression, "compression", false, "negotiate permessage-deflate")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	opts.Files = fs.Args()
	if !opts.Handshake && len(opts.Files) == 0 {
		return options{}, fmt.Errorf("no files to send")
	}
	if opts.Conns < 1 {
		opts.Conns = 1
	}
	return opts, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseOptions(args)
	if err != nil {
		return err
	}
	cfg := client.DefaultConfig()
	cfg.URL = opts.URL
	cfg.AckTimeout = opts.AckTimeout
	cfg.MaxConnectAttempts = opts.Attempts
	cfg.Compression = opts.Compression
	c, err := client.New(cfg)
	if err != nil {
		return err
	}
	if opts.Handshake {
		return runHandshake(ctx, c, opts, out)
	}
	return sendFiles(ctx, c, opts, out)
}

func runHandshake(ctx context.Context, c *client.Client, opts options, out io.Writer) error {
	conn, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	data, err := conn.Handshake(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "authenticated nonce=%s version=%s\n", data.Nonce, data.Version)
	for _, msg := range opts.Publish {
		if err := conn.Publish(ctx, opts.Channel, msg); err != nil {
			return err
		}
	}
	return nil
}

// sendFiles spreads files round-robin over opts.Conns connections. Each
// connection sends its share in order.
func sendFiles(ctx context.Context, c *client.Client, opts options, out io.Writer) error {
	conns := opts.Conns
	if conns > len(opts.Files) {
		conns = len(opts.Files)
	}
	shares := make([][]string, conns)
	for i, path := range opts.Files {
		shares[i%conns] = append(shares[i%conns], path)
	}

	results := make(chan string, len(opts.Files))
	g, gctx := errgroup.WithContext(ctx)
	for _, share := range shares {
		share := share
		g.Go(func() error {
			conn, err := c.Connect(gctx)
			if err != nil {
				return err
			}
			defer conn.Close()
			for _, path := range share {
				start := time.Now()
				ack, err := conn.SendFile(gctx, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				log.Info().Str("file", path).Str("id", string(ack.ID)).Dur("rtt", time.Since(start)).Msg("sent")
				results <- fmt.Sprintf("acked id=%s file=%s", ack.ID, path)
			}
			return nil
		})
	}
	err := g.Wait()
	close(results)
	for line := range results {
		fmt.Fprintln(out, line)
	}
	return err
}
