// Package server wires the HTTP surface: the REST adapters over the
// broadcast hub and simulators, the content and SEO endpoints, and the
// WebSocket upgrade path.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/jelf-alter/personal-site/internal/config"
	"github.com/jelf-alter/personal-site/internal/content"
	apperrors "github.com/jelf-alter/personal-site/internal/errors"
	"github.com/jelf-alter/personal-site/internal/pipeline"
	"github.com/jelf-alter/personal-site/internal/seo"
	"github.com/jelf-alter/personal-site/internal/testlab"
	"github.com/jelf-alter/personal-site/internal/ws"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	hub       *ws.Hub
	catalog   *content.Catalog
	seo       *seo.Generator
	pipelines *pipeline.Simulator
	suites    *testlab.Runner
	startTime time.Time

	upgrader         websocket.Upgrader
	globalLimiter    *GlobalConnectionLimiter
	ipLimiter        *IPConnectionLimiter
	broadcastLimiter *rate.Limiter
}

func NewServer(cfg *config.Config, hub *ws.Hub, catalog *content.Catalog, seoGen *seo.Generator, pipelines *pipeline.Simulator, suites *testlab.Runner) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(apperrors.Middleware())

	srv := &Server{
		echo:      e,
		config:    cfg,
		hub:       hub,
		catalog:   catalog,
		seo:       seoGen,
		pipelines: pipelines,
		suites:    suites,
		startTime: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the hub carries no credentials, any origin may connect
			},
		},
		globalLimiter:    NewGlobalConnectionLimiter(cfg.MaxWSConnections),
		ipLimiter:        NewIPConnectionLimiter(cfg.MaxWSConnectionsPerIP),
		broadcastLimiter: rate.NewLimiter(rate.Limit(cfg.BroadcastRateLimit), broadcastBurst(cfg.BroadcastRateLimit)),
	}

	srv.registerRoutes()
	return srv
}

// broadcastBurst derives the limiter burst from the configured rate.
// Fractional rates below one request per second would truncate to a
// burst of zero and block every trigger, so the burst is at least one.
func broadcastBurst(limit float64) int {
	if limit < 1 {
		return 1
	}
	return int(limit)
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
