package httpserver

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/menta2k/hat-overlay/internal/apperrors"
)

const compositeQuality = 90

var compositeFormats = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"webp": "image/webp",
}

func (s *Server) handleComposite(c echo.Context) error {
	format := strings.ToLower(strings.TrimSpace(c.FormValue("format")))
	if format == "" {
		format = "png"
	}
	contentType, ok := compositeFormats[format]
	if !ok {
		return apperrors.ValidationError("format must be png, jpeg or webp")
	}

	req, err := readCompositeForm(c, false)
	if err != nil {
		return err
	}

	res, err := s.service.Composite(c.Request().Context(), req)
	if err != nil {
		return err
	}
	s.domain.ObservePlacement(res.Placement)

	var buf bytes.Buffer
	if err := s.service.Encode(&buf, res.Image, format, compositeQuality, false); err != nil {
		return apperrors.InternalError("failed to encode composite", err)
	}

	h := c.Response().Header()
	h.Set("X-Placement-Source", string(res.Placement.Source))
	h.Set("X-Placement-Confidence", strconv.FormatFloat(res.Placement.Confidence, 'f', 3, 64))
	return c.Blob(http.StatusOK, contentType, buf.Bytes())
}
