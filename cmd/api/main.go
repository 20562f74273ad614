package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dealdesk/blob"
	"dealdesk/config"
	"dealdesk/db"
	"dealdesk/envelope"
	"dealdesk/gate"
	"dealdesk/migrations"
	"dealdesk/provider"
	"dealdesk/render"
	"dealdesk/ruleset"
	"dealdesk/webhook"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.AutoMigrate {
		if err := migrations.Up(ctx, cfg.DatabaseURL); err != nil {
			log.Error("migrations failed", "error", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	esign, err := provider.FromConfig(provider.Config{
		Name:             cfg.EsignProvider,
		StubAutoComplete: cfg.StubAutoComplete,
		SignWellAPIKey:   cfg.SignWellAPIKey,
		SignWellBaseURL:  cfg.SignWellBaseURL,
	})
	if err != nil {
		log.Error("configure signing provider", "error", err)
		os.Exit(1)
	}

	envelopes := envelope.NewService(pool, nil, esign, blob.NewMemory())
	rulesets := ruleset.NewService(pool, nil)

	server := &Server{
		envelopes: envelopes,
		rulesets:  rulesets,
		renderer:  render.NewHTML(),
		gate:      gate.New(cfg.WorkerSharedSecret),
		webhooks:  webhook.NewHandler(provider.NewRegistry(esign), envelopes, log),
		maxBody:   cfg.AdminMaxBodyBytes,
		log:       log,
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	log.Info("listening", "addr", cfg.ListenAddr, "provider", esign.Name(), "env", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
