package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ambulance-dispatch/internal/config"
	"github.com/example/ambulance-dispatch/internal/dispatch"
	"github.com/example/ambulance-dispatch/internal/eligibility"
	"github.com/example/ambulance-dispatch/internal/engine"
	"github.com/example/ambulance-dispatch/internal/eta"
	"github.com/example/ambulance-dispatch/internal/events"
	"github.com/example/ambulance-dispatch/internal/fleet"
	"github.com/example/ambulance-dispatch/internal/hospitals"
	httpapi "github.com/example/ambulance-dispatch/internal/http"
	"github.com/example/ambulance-dispatch/internal/ingest"
	"github.com/example/ambulance-dispatch/internal/logging"
	"github.com/example/ambulance-dispatch/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	var roster fleet.Roster
	if cfg.RedisAddr != "" {
		roster = fleet.NewRedisFleet(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
	} else {
		roster = fleet.NewIndex()
	}

	var store storage.KV
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresKV(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		store = pg
	} else {
		store = storage.NewMemoryKV()
	}

	var kafka *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kafka = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
	}

	resolver := &eta.Resolver{FallbackMps: cfg.FallbackSpeed}
	if cfg.OSRMEndpoint != "" {
		resolver.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
		resolver.Cache = eta.NewCache(30 * time.Second)
	}

	wsreg := dispatch.NewWSRegistry(logging.Component(logger, "ws"))
	notifier := dispatch.Notifier(wsreg)
	if cfg.PushEndpoint != "" {
		notifier = dispatch.Chain{wsreg, dispatch.NewPushNotifier(cfg.PushEndpoint, cfg.PushKey)}
	}

	eng := engine.New(engine.Config{
		OfferWindow:   cfg.OfferWindow,
		Fanout:        cfg.OfferFanout,
		MaxRounds:     cfg.OfferMaxRounds,
		RoundBackoff:  cfg.RoundBackoff,
		TerminalGrace: cfg.TerminalGrace,
	}, engine.Deps{
		Selector: &eligibility.Selector{Roster: roster, RadiusM: cfg.SearchRadiusM},
		Roster:   roster,
		Store:    store,
		Events:   events.NewRegistry(cfg.EventBuffer),
		Notifier: notifier,
		Routes:   resolver,
		Logger:   logging.Component(logger, "engine"),
	})

	srv := httpapi.NewServer(eng, roster, hospitals.NewDirectory(hospitals.Seed()), kafka, wsreg, logging.Component(logger, "http"))

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ambulance-dispatch listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_engine_kv.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
	}
}
