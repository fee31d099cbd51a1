package httpserver

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleAsset(c echo.Context) error {
	a, err := s.assets.Get(c.Request().Context())
	if err != nil {
		return err
	}

	maxAge := int(s.config.AssetCacheMaxAge.Seconds())
	c.Response().Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d, immutable", maxAge))
	return c.Blob(http.StatusOK, a.MimeType, a.Data)
}
