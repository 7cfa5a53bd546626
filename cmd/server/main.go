package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jelf-alter/personal-site/internal/config"
	"github.com/jelf-alter/personal-site/internal/content"
	"github.com/jelf-alter/personal-site/internal/logging"
	"github.com/jelf-alter/personal-site/internal/pipeline"
	"github.com/jelf-alter/personal-site/internal/seo"
	"github.com/jelf-alter/personal-site/internal/server"
	"github.com/jelf-alter/personal-site/internal/testlab"
	"github.com/jelf-alter/personal-site/internal/version"
	"github.com/jelf-alter/personal-site/internal/ws"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupCatalog() *content.Catalog {
	catalog, err := content.Load()
	if err != nil {
		slog.Error("Failed to load content catalog", "error", err)
		os.Exit(1)
	}
	return catalog
}

func runGracefulShutdown(srv *server.Server, hub *ws.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Closes every remaining client with a normal-closure frame and
		// waits for the hub goroutine to exit.
		hub.Shutdown()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	// Initialize structured logging
	logging.Init(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", version.Get().Version,
	)

	catalog := setupCatalog()

	hub := ws.NewHub(clock, ws.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HistoryLimit:      cfg.HistoryLimit,
	})

	seoGen := seo.NewGenerator(cfg.BaseURL, catalog)
	pipelines := pipeline.NewSimulator(catalog, hub, clock)
	suites := testlab.NewRunner(catalog, hub, clock)

	srv := server.NewServer(cfg, hub, catalog, seoGen, pipelines, suites)

	done := runGracefulShutdown(srv, hub)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
