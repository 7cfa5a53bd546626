package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	apperrors "github.com/jelf-alter/personal-site/internal/errors"
	"github.com/jelf-alter/personal-site/internal/metrics"
)

const (
	historyLimitMin     = 1
	historyLimitMax     = 100
	historyLimitDefault = 100
)

func (s *Server) handleWebSocket(c echo.Context) error {
	if !s.globalLimiter.Acquire() {
		metrics.WSConnectionsRejectedTotal.WithLabelValues("global").Inc()
		return c.String(http.StatusServiceUnavailable, "connection limit reached")
	}
	defer s.globalLimiter.Release()

	ip := c.RealIP()
	if !s.ipLimiter.Acquire(ip) {
		metrics.WSConnectionsRejectedTotal.WithLabelValues("per_ip").Inc()
		return c.String(http.StatusTooManyRequests, "too many connections from this address")
	}
	defer s.ipLimiter.Release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		slog.Warn("websocket upgrade failed", "remote", ip, "error", err)
		return nil
	}

	// Blocks until the client disconnects; the hub owns the connection
	// from here on.
	s.hub.ServeConn(conn)
	return nil
}

func (s *Server) handleWSStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.hub.Stats())
}

func (s *Server) handleWSHistory(c echo.Context) error {
	channel := c.Param("channel")

	limit := historyLimitDefault
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return apperrors.ValidationError("limit must be a number").WithField("limit", raw)
		}
		limit = parsed
	}
	// The hub does no clamping; the adapter owns the 1-100 bounds.
	if limit < historyLimitMin {
		limit = historyLimitMin
	}
	if limit > historyLimitMax {
		limit = historyLimitMax
	}

	history := s.hub.History(channel)
	if len(history) > limit {
		history = history[len(history)-limit:]
	}

	return c.JSON(http.StatusOK, map[string]any{
		"channel":  channel,
		"count":    len(history),
		"messages": history,
	})
}

func (s *Server) handleBroadcastPipeline(c echo.Context) error {
	payload, err := s.decodeBroadcastBody(c, "pipeline")
	if err != nil {
		return err
	}
	s.hub.BroadcastPipelineUpdate(c.Param("id"), payload)
	metrics.BroadcastTriggersTotal.WithLabelValues("pipeline", "ok").Inc()
	return c.JSON(http.StatusOK, map[string]string{"status": "broadcast", "channel": "pipeline"})
}

func (s *Server) handleBroadcastTest(c echo.Context) error {
	payload, err := s.decodeBroadcastBody(c, "test")
	if err != nil {
		return err
	}
	s.hub.BroadcastTestUpdate(c.Param("id"), payload)
	metrics.BroadcastTriggersTotal.WithLabelValues("test", "ok").Inc()
	return c.JSON(http.StatusOK, map[string]string{"status": "broadcast", "channel": "testing"})
}

// decodeBroadcastBody enforces the trigger contract: the body must be a
// JSON object, and triggers share a token-bucket rate limit.
func (s *Server) decodeBroadcastBody(c echo.Context, kind string) (map[string]any, error) {
	if !s.broadcastLimiter.Allow() {
		metrics.BroadcastTriggersTotal.WithLabelValues(kind, "rate_limited").Inc()
		return nil, apperrors.RateLimitedError("broadcast rate limit exceeded")
	}

	var payload map[string]any
	if err := json.NewDecoder(c.Request().Body).Decode(&payload); err != nil {
		metrics.BroadcastTriggersTotal.WithLabelValues(kind, "rejected").Inc()
		return nil, apperrors.ValidationError("request body must be a JSON object")
	}
	if payload == nil {
		metrics.BroadcastTriggersTotal.WithLabelValues(kind, "rejected").Inc()
		return nil, apperrors.ValidationError("request body must be a JSON object")
	}
	return payload, nil
}
