// Copyright 2026 The Pulseroom Authors
// SPDX-License-Identifier: Apache-2.0

// Pulseroom-authority is the session authority daemon: the single
// source of truth for every live session. It serves the realtime
// websocket protocol and the HTTP collaborator API, persists sessions
// to SQLite, and samples host load for the stats surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pulseroom/pulseroom/authority"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		dbPath     string
		delayMs    int
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	flag.StringVar(&listen, "listen", "", "listen address (overrides config)")
	flag.StringVar(&dbPath, "db", "", "SQLite database path (overrides config; empty disables persistence)")
	flag.IntVar(&delayMs, "default-apply-delay", -1, "default apply delay in ms for new sessions (overrides config)")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := buildLogger(logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	config, err := authority.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		config.ListenAddress = listen
	}
	if dbPath != "" {
		config.DatabasePath = dbPath
	}
	if delayMs >= 0 {
		config.DefaultApplyDelayMs = delayMs
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *authority.Store
	if config.DatabasePath != "" {
		store, err = authority.OpenStore(config.DatabasePath, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	sampler := authority.NewSampler(authority.SamplerConfig{
		Logger:               logger,
		Interval:             config.SampleInterval,
		WindowSize:           config.SampleWindow,
		LoadWarningThreshold: config.LoadWarningThreshold,
	})
	defer sampler.Stop()

	auth, err := authority.NewAuthority(ctx, authority.AuthorityConfig{
		Logger:              logger,
		Store:               store,
		Sampler:             sampler,
		DefaultApplyDelayMs: config.DefaultApplyDelayMs,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:    config.ListenAddress,
		Handler: authority.NewServer(auth, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authority listening", "address", config.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	}
}

func buildLogger(level string) (*slog.Logger, error) {
	var slogLevel slog.Level
	if err := slogLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})), nil
}
