package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/api/version", s.handleVersion)

	// Real-time broadcast surface
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/api/ws/stats", s.handleWSStats)
	s.echo.GET("/api/ws/history/:channel", s.handleWSHistory)
	s.echo.POST("/api/broadcast/pipeline/:id", s.handleBroadcastPipeline)
	s.echo.POST("/api/broadcast/test/:id", s.handleBroadcastTest)

	// Content
	s.echo.GET("/api/config", s.handleSiteConfig)
	s.echo.GET("/api/demos", s.handleListDemos)
	s.echo.GET("/api/demos/:id", s.handleGetDemo)
	s.echo.GET("/api/test-suites", s.handleListSuites)
	s.echo.GET("/api/test-suites/:id", s.handleGetSuite)

	// Simulators
	s.echo.POST("/api/pipelines/:id/run", s.handleStartPipelineRun)
	s.echo.GET("/api/pipelines/runs/:runId", s.handleGetPipelineRun)
	s.echo.POST("/api/test-suites/:id/run", s.handleStartSuiteRun)
	s.echo.GET("/api/test-suites/:id/results", s.handleGetSuiteResults)

	// SEO
	s.echo.GET("/sitemap.xml", s.handleSitemap)
	s.echo.GET("/robots.txt", s.handleRobots)
	s.echo.GET("/api/seo/meta", s.handleMeta)
}
