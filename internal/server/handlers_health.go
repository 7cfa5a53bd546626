package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/jelf-alter/personal-site/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	})
}

// handleReadiness verifies the process can actually serve: the catalog
// is loaded and the hub answers a snapshot request. There are no
// external dependencies to probe.
func (s *Server) handleReadiness(c echo.Context) error {
	if s.catalog == nil || len(s.catalog.Demos) == 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":       "unhealthy",
			"failed_check": "catalog",
		})
	}

	stats := s.hub.Stats()
	if stats.UptimeSeconds <= 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":       "unhealthy",
			"failed_check": "hub",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(http.StatusOK, version.Get())
}
