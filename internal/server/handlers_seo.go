package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	apperrors "github.com/jelf-alter/personal-site/internal/errors"
)

func (s *Server) handleSitemap(c echo.Context) error {
	body, err := s.seo.Sitemap()
	if err != nil {
		return apperrors.InternalError("failed to generate sitemap", err)
	}
	return c.Blob(http.StatusOK, "application/xml; charset=utf-8", body)
}

func (s *Server) handleRobots(c echo.Context) error {
	return c.String(http.StatusOK, s.seo.Robots())
}

func (s *Server) handleMeta(c echo.Context) error {
	path := c.QueryParam("path")
	if path == "" {
		return apperrors.ValidationError("path query parameter is required")
	}
	meta, ok := s.seo.Meta(path)
	if !ok {
		return apperrors.NotFoundError("no metadata for path").WithField("path", path)
	}
	return c.JSON(http.StatusOK, meta)
}
