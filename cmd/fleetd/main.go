package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fleetaudit/fleetd/internal/api"
	"github.com/fleetaudit/fleetd/internal/config"
	"github.com/fleetaudit/fleetd/internal/events"
	"github.com/fleetaudit/fleetd/internal/fleet"
	"github.com/fleetaudit/fleetd/internal/metrics"
	"github.com/fleetaudit/fleetd/internal/report"
	"github.com/fleetaudit/fleetd/internal/store"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLevel(cfg.LogLevel),
	}))

	logger.Info("Starting Fleet Tracking Service",
		"http_addr", cfg.HTTPAddr,
		"store", cfg.StoreKind,
		"pg_host", cfg.PGHost,
		"pg_db", cfg.PGDB,
		"nats_url", cfg.NATSURL,
		"log_level", cfg.LogLevel)

	var st store.Store
	switch cfg.StoreKind {
	case "memory":
		st = store.NewMemoryStore(logger)
		logger.Warn("Using in-memory store; data will not survive restarts")
	default:
		pg, err := store.NewPostgresStore(cfg.PGHost, cfg.PGPort, cfg.PGUser, cfg.PGPass, cfg.PGDB, logger)
		if err != nil {
			logger.Error("Failed to initialize database store", "error", err)
			os.Exit(1)
		}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			logger.Error("Failed to ensure database schema", "error", err)
			os.Exit(1)
		}
		st = pg
		logger.Info("Connected to PostgreSQL database")
	}
	defer st.Close()

	var publisher events.Publisher = events.NopPublisher{}
	var ready api.ReadyChecker
	if cfg.NATSURL != "" {
		natsConn, err := nats.Connect(cfg.NATSURL, nats.Timeout(10*time.Second))
		if err != nil {
			logger.Warn("Failed to connect to NATS, events disabled", "error", err)
		} else {
			defer natsConn.Close()
			np := events.NewNATSPublisher(natsConn, logger)
			publisher = np
			ready = np
			logger.Info("Connected to NATS")
		}
	}

	parser, err := report.NewParser(logger)
	if err != nil {
		logger.Error("Failed to initialize report parser", "error", err)
		os.Exit(1)
	}

	m := metrics.NewMetrics()
	registry := fleet.NewRegistry(st, logger)
	ingestor := fleet.NewIngestor(registry, parser, publisher, m, logger)
	ledger, err := fleet.NewLedger(st, publisher, m, logger)
	if err != nil {
		logger.Error("Failed to initialize correction ledger", "error", err)
		os.Exit(1)
	}
	hierarchy := fleet.NewHierarchy(st, publisher, m, logger)
	aggregator := fleet.NewAggregator(st, logger)

	apiServer := api.NewServer(st, ingestor, registry, ledger, hierarchy, aggregator, ready, logger)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      apiServer.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Starting HTTP server", "addr", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("Fleet tracking service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("Server exited")
}
