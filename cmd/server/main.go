// Narratrace - Coordinated Campaign Detection Engine
// Copyright 2026 Narratrace Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/narratrace/narratrace

// Command server runs the Narratrace detection daemon: a supervised tree of
// services around a single BadgerDB — the detection pass scheduler, value-log
// GC, the optional embedded NATS broker, and the observability HTTP endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/narratrace/narratrace/internal/config"
	"github.com/narratrace/narratrace/internal/detection"
	"github.com/narratrace/narratrace/internal/logging"
	"github.com/narratrace/narratrace/internal/supervisor"
	"github.com/narratrace/narratrace/internal/supervisor/services"
)

const storeGCInterval = 10 * time.Minute

func main() {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version()).
		Str("storage", cfg.Storage.Path).
		Msg("Starting Narratrace")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === STORAGE LAYER ===

	db, err := detection.OpenBadger(cfg.Storage)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open detection database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing detection database")
		}
	}()

	store := detection.NewBadgerStore(db)
	feed := detection.NewBadgerFeed(db)

	// === DETECTION ENGINE ===

	engine := detection.NewEngine(
		cfg.Engine,
		feed,
		store,
		detection.NewBurstDetector(cfg.Burst),
		detection.NewNarrativeClusterer(cfg.Cluster),
		detection.NewBotScorer(cfg.Bot),
		detection.NewGraphBuilder(cfg.Graph),
		detection.NewAggregator(cfg.Score, store),
	)

	// === SUPERVISOR TREE ===

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddStorageService(services.NewStoreGCService(store, storeGCInterval))

	// === ALERT DELIVERY ===

	if cfg.Webhook.Enabled {
		engine.RegisterNotifier(detection.NewWebhookNotifier(cfg.Webhook))
		logging.Info().Str("url", cfg.Webhook.URL).Msg("Webhook notifier registered")
	}

	if cfg.NATS.Enabled {
		natsCfg := cfg.NATS
		if natsCfg.EmbeddedServer {
			broker, err := detection.NewEmbeddedServer(natsCfg)
			if err != nil {
				logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
			}
			natsCfg.URL = broker.ClientURL()
			tree.AddDetectionService(services.NewNATSServerService(broker, 10*time.Second))
			logging.Info().Str("url", natsCfg.URL).Msg("Embedded NATS server started")
		}

		if err := provisionAlertStream(ctx, natsCfg); err != nil {
			logging.Fatal().Err(err).Str("stream", natsCfg.Stream).Msg("Failed to provision JetStream alert stream")
		}

		publisher, err := detection.NewNATSNotifier(natsCfg, nil)
		if err != nil {
			logging.Fatal().Err(err).Str("url", natsCfg.URL).Msg("Failed to connect NATS publisher")
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing NATS publisher")
			}
		}()
		engine.RegisterNotifier(publisher)
		logging.Info().Str("subject", natsCfg.Subject).Msg("NATS alert publisher registered")
	}

	tree.AddDetectionService(services.NewDetectionService(engine))

	// === OBSERVABILITY HTTP SERVER ===

	router := chi.NewRouter()
	router.Use(chimiddleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	router.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("Observability HTTP server added")

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().
		Dur("pass_interval", cfg.Engine.PassInterval).
		Dur("window", cfg.Engine.Window).
		Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Narratrace stopped")
}

// provisionAlertStream ensures the JetStream alert stream exists before the
// publisher starts. The publisher publishes with auto-provision off and
// relies on the stream's duplicate window for msg-id deduplication.
func provisionAlertStream(ctx context.Context, cfg config.NATSConfig) error {
	nc, err := natsgo.Connect(cfg.URL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
	)
	if err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}

	init, err := detection.NewStreamInitializer(js, cfg)
	if err != nil {
		return err
	}
	stream, err := init.EnsureStream(ctx)
	if err != nil {
		return err
	}

	info := stream.CachedInfo()
	logging.Info().
		Str("name", info.Config.Name).
		Strs("subjects", info.Config.Subjects).
		Dur("max_age", info.Config.MaxAge).
		Msg("JetStream alert stream ready")
	return nil
}

// version is stamped at build time via -ldflags "-X main.buildVersion=...".
var buildVersion = "dev"

func version() string {
	return buildVersion
}
