package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/jelf-alter/personal-site/internal/errors"
)

func (s *Server) handleSiteConfig(c echo.Context) error {
	return c.JSON(http.StatusOK, s.catalog.Site)
}

func (s *Server) handleListDemos(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"demos": s.catalog.Demos,
		"count": len(s.catalog.Demos),
	})
}

func (s *Server) handleGetDemo(c echo.Context) error {
	id := c.Param("id")
	demo := s.catalog.DemoByID(id)
	if demo == nil {
		return apperrors.NotFoundError("demo not found").WithField("demo_id", id)
	}
	return c.JSON(http.StatusOK, demo)
}

func (s *Server) handleListSuites(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"testSuites": s.catalog.TestSuites,
		"count":      len(s.catalog.TestSuites),
	})
}

func (s *Server) handleGetSuite(c echo.Context) error {
	id := c.Param("id")
	suite := s.catalog.SuiteByID(id)
	if suite == nil {
		return apperrors.NotFoundError("test suite not found").WithField("suite_id", id)
	}
	return c.JSON(http.StatusOK, suite)
}

func (s *Server) handleStartPipelineRun(c echo.Context) error {
	run, err := s.pipelines.StartRun(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, run)
}

func (s *Server) handleGetPipelineRun(c echo.Context) error {
	runID := c.Param("runId")
	run, ok := s.pipelines.Run(runID)
	if !ok {
		return apperrors.NotFoundError("run not found").WithField("run_id", runID)
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleStartSuiteRun(c echo.Context) error {
	result, err := s.suites.RunSuite(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, result)
}

func (s *Server) handleGetSuiteResults(c echo.Context) error {
	id := c.Param("id")
	if s.catalog.SuiteByID(id) == nil {
		return apperrors.NotFoundError("test suite not found").WithField("suite_id", id)
	}
	result, ok := s.suites.Result(id)
	if !ok {
		return apperrors.NotFoundError("suite has not been run yet").WithField("suite_id", id)
	}
	return c.JSON(http.StatusOK, result)
}
