package httpserver

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/menta2k/hat-overlay/internal/apperrors"
	"github.com/menta2k/hat-overlay/pkg/types"
)

// placementResponse carries the legacy field names the browser client reads
// next to the canonical ones.
type placementResponse struct {
	types.Placement
	Note     types.Source `json:"note"`
	HatWidth float64      `json:"hatWidth"`
	AngleDeg float64      `json:"angleDeg"`
}

func newPlacementResponse(p types.Placement) placementResponse {
	return placementResponse{
		Placement: p,
		Note:      p.Source,
		HatWidth:  p.TargetWidth,
		AngleDeg:  p.RotationDegrees,
	}
}

func (s *Server) handlePlacement(c echo.Context) error {
	req, err := readCompositeForm(c, true)
	if err != nil {
		return err
	}

	p, err := s.service.Place(c.Request().Context(), req)
	if err != nil {
		return err
	}
	s.domain.ObservePlacement(p)

	if err := c.JSON(http.StatusOK, newPlacementResponse(p)); err != nil {
		return fmt.Errorf("failed to write placement response: %w", err)
	}
	return nil
}

// readCompositeForm reads the multipart fields image, width, height and mimeType.
// Without requireDims, missing width/height are left at zero.
func readCompositeForm(c echo.Context, requireDims bool) (types.CompositeRequest, error) {
	fh, err := c.FormFile("image")
	if err != nil {
		return types.CompositeRequest{}, apperrors.ValidationError(types.ErrEmptyPhoto.Error())
	}

	f, err := fh.Open()
	if err != nil {
		return types.CompositeRequest{}, apperrors.InternalError("failed to open upload", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return types.CompositeRequest{}, apperrors.InternalError("failed to read upload", err)
	}
	if len(data) == 0 {
		return types.CompositeRequest{}, apperrors.ValidationError(types.ErrEmptyPhoto.Error())
	}

	mimeType := strings.TrimSpace(c.FormValue("mimeType"))
	if mimeType == "" {
		mimeType = fh.Header.Get("Content-Type")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = "image/jpeg"
	}

	req := types.CompositeRequest{Photo: data, MimeType: mimeType}

	w, wErr := parseDimension(c.FormValue("width"))
	h, hErr := parseDimension(c.FormValue("height"))
	if wErr != nil || hErr != nil {
		if requireDims || c.FormValue("width") != "" || c.FormValue("height") != "" {
			return types.CompositeRequest{}, apperrors.ValidationError(types.ErrInvalidDimensions.Error())
		}
		return req, nil
	}
	req.Width, req.Height = w, h
	return req, nil
}

func parseDimension(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, types.ErrInvalidDimensions
	}
	return f, nil
}
