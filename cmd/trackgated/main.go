// Trackgate - Resilient Client Access Layer for GPS Tracking Servers
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/trackgate

// Package main is the entry point for the trackgated daemon.
//
// Trackgated connects to a remote GPS tracking server through the resilient
// access layer and tails its live update streams: device status changes,
// position fixes and server events. It is both a usable monitoring daemon
// and the reference wiring for embedding the client library.
//
// # Startup Order
//
//  1. Configuration: layered load via Koanf v2 (defaults, YAML file,
//     TRACKGATE_* environment variables)
//  2. Logging: zerolog, configured from the logging section
//  3. Client: rate limiter, batcher, cache store, retry layer, circuit
//     breaker and HTTP transport assembled from configuration
//  4. Session: credential or token login against the server
//  5. Push channel: WebSocket subscription with automatic recovery
//  6. Metrics: optional Prometheus endpoint when -metrics is set
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (TRACKGATE_SERVER_URL, TRACKGATE_SERVER_TOKEN, ...)
//   - Config file (trackgate.yaml, or the path in TRACKGATE_CONFIG)
//   - Built-in defaults
//
// # Example Usage
//
// Token authentication:
//
//	export TRACKGATE_SERVER_URL=https://tracker.example.com
//	export TRACKGATE_SERVER_TOKEN=your-api-token
//	./trackgated
//
// Credential authentication with a Prometheus endpoint:
//
//	export TRACKGATE_SERVER_URL=https://tracker.example.com
//	export TRACKGATE_SERVER_USERNAME=dispatcher@example.com
//	export TRACKGATE_SERVER_PASSWORD=secret
//	./trackgated -metrics :9090
//
// # Signal Handling
//
// The daemon shuts down gracefully on SIGINT and SIGTERM: the push channel
// closes first, then the pipeline drains its pending batches.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/trackgate/internal/client"
	"github.com/tomtom215/trackgate/internal/config"
	"github.com/tomtom215/trackgate/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file (overrides TRACKGATE_CONFIG)")
	metricsAddr := flag.String("metrics", "", "listen address for the Prometheus endpoint (disabled when empty)")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	logging.Info().
		Str("server_url", cfg.Server.URL).
		Str("cache_backend", cfg.Cache.Backend).
		Bool("offline_mode", cfg.Cache.OfflineMode).
		Msg("Starting trackgated")

	c, err := client.New(cfg)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to assemble client")
	}
	defer func() {
		if err := c.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing client")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user, err := c.Login(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to establish server session")
	}
	logging.Info().Str("user", user.Name).Str("email", user.Email).Msg("Session established")

	info, err := c.Server(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("Failed to read server info")
	} else {
		logging.Info().Str("version", info.Version).Msg("Connected to tracking server")
	}

	if err := c.StartStream(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to connect push channel")
	}

	var metricsServer *http.Server
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:              *metricsAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logging.Info().Str("addr", *metricsAddr).Msg("Metrics endpoint listening")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	go tailStreams(ctx, c)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info().Str("signal", sig.String()).Msg("Shutting down")

	cancel()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logging.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}
}

// tailStreams logs every update arriving on the push channel. Streams close
// when the client closes, ending the loop.
func tailStreams(ctx context.Context, c *client.Client) {
	stream := c.Stream()
	devices := stream.Devices()
	positions := stream.Positions()
	events := stream.Events()
	states := stream.States()

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-devices:
			if !ok {
				return
			}
			logging.Info().
				Int("device_id", d.ID).
				Str("name", d.Name).
				Str("status", d.Status).
				Msg("Device update")
		case p, ok := <-positions:
			if !ok {
				return
			}
			logging.Info().
				Int("device_id", p.DeviceID).
				Float64("lat", p.Latitude).
				Float64("lon", p.Longitude).
				Float64("speed", p.Speed).
				Time("fix_time", p.FixTime).
				Msg("Position update")
		case e, ok := <-events:
			if !ok {
				return
			}
			logging.Info().
				Str("type", e.Type).
				Int("device_id", e.DeviceID).
				Time("event_time", e.EventTime).
				Msg("Event")
		case s, ok := <-states:
			if !ok {
				return
			}
			logging.Info().Str("state", s.String()).Msg("Push channel state")
		}
	}
}
