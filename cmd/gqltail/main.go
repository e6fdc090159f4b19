// Command gqltail subscribes to one GraphQL subscription over the legacy
// graphql-ws protocol and prints each delivered event to stdout.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamweave/gqlsub/internal/channel"
	"github.com/streamweave/gqlsub/internal/config"
	"github.com/streamweave/gqlsub/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/gqltail.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting gqltail",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ch, err := channel.New(ctx, channel.Config{
		URL:                  cfg.Endpoint.WSURL,
		HandshakeTimeout:     cfg.Channel.HandshakeTimeout,
		WriteTimeout:         cfg.Channel.WriteTimeout,
		BufferSize:           cfg.Channel.BufferSize,
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
		DispatchInterval:     cfg.Channel.DispatchInterval,
		ReconnectBaseDelay:   cfg.Channel.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.Channel.ReconnectMaxDelay,
	}, logger)
	if err != nil {
		logger.Error("failed to open channel", "error", err)
		os.Exit(1)
	}

	id, err := ch.Subscribe(
		cfg.Subscription.Query,
		cfg.Subscription.Variables,
		cfg.Endpoint.Headers,
		cfg.Endpoint.Authorization,
		func(id string, payload json.RawMessage) {
			fmt.Println(string(payload))
		},
	)
	if err != nil {
		logger.Error("failed to subscribe", "error", err)
		os.Exit(1)
	}
	logger.Info("subscribed", "op_id", id)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	// An exhausted subscription stops delivering with no signal beyond logs,
	// so report lifetime and state periodically for liveness monitoring.
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Debug("channel status",
					"lifetime_seconds", ch.Lifetime(),
					"state", ch.State(),
				)
				if ch.State() == channel.StateStopped {
					logger.Warn("subscription stopped, shutting down")
					cancel()
					return nil
				}
			}
		}
	})

	g.Wait()

	ch.Unsubscribe()
	if err := ch.Close(); err != nil {
		logger.Warn("close failed", "error", err)
	}

	logger.Info("gqltail stopped")
}
