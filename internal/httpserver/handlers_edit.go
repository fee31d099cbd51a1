package httpserver

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/menta2k/hat-overlay/internal/apperrors"
	"github.com/menta2k/hat-overlay/pkg/edit"
	"github.com/menta2k/hat-overlay/pkg/types"
)

type editRequest struct {
	Image     string               `json:"image"`
	MimeType  string               `json:"mimeType"`
	Prompt    string               `json:"prompt"`
	Photo     string               `json:"photo"`
	Hat       string               `json:"hat"`
	Placement *types.PlacementHint `json:"placement"`
}

type editResponse struct {
	Success  bool   `json:"success"`
	Image    string `json:"image"`
	MimeType string `json:"mimeType"`
}

func (s *Server) handleEdit(c echo.Context) error {
	var body editRequest
	if err := c.Bind(&body); err != nil {
		return apperrors.ValidationError("invalid JSON body")
	}

	req, err := body.toEditRequest()
	if err != nil {
		return err
	}

	res, err := s.service.Edit(c.Request().Context(), req)
	if err != nil {
		s.domain.ObserveEdit(string(apperrors.FromDomain(err).Type))
		return err
	}
	s.domain.ObserveEdit("success")

	mimeType := res.MimeType
	if mimeType == "" {
		mimeType = "image/png"
	}
	response := editResponse{
		Success:  true,
		Image:    base64.StdEncoding.EncodeToString(res.Image),
		MimeType: mimeType,
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write edit response: %w", err)
	}
	return nil
}

// toEditRequest picks two-image mode when both photo and hat are present
func (b editRequest) toEditRequest() (edit.Request, error) {
	if b.Photo != "" && b.Hat != "" {
		photo, err := decodeInline(b.Photo, b.MimeType)
		if err != nil {
			return edit.Request{}, err
		}
		hat, err := decodeInline(b.Hat, "image/png")
		if err != nil {
			return edit.Request{}, err
		}
		hint := edit.ClampHint(b.Placement)
		return edit.Request{Photo: photo, Instruction: b.Prompt, Overlay: &hat, Hint: &hint}, nil
	}

	raw := b.Image
	if raw == "" {
		raw = b.Photo
	}
	if raw == "" {
		return edit.Request{}, apperrors.ValidationError(types.ErrEmptyPhoto.Error())
	}
	photo, err := decodeInline(raw, b.MimeType)
	if err != nil {
		return edit.Request{}, err
	}
	return edit.Request{Photo: photo, Instruction: b.Prompt}, nil
}

// decodeInline accepts plain base64 or a data URL; a data URL's media type wins
func decodeInline(raw, mimeType string) (types.InlineImage, error) {
	raw = strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(raw, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return types.InlineImage{}, apperrors.ValidationError("malformed data URL")
		}
		if mt, _, _ := strings.Cut(meta, ";"); mt != "" {
			mimeType = mt
		}
		raw = payload
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return types.InlineImage{}, apperrors.ValidationError("image must be base64 encoded").WithDetail(err.Error())
	}
	if len(data) == 0 {
		return types.InlineImage{}, apperrors.ValidationError(types.ErrEmptyPhoto.Error())
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return types.InlineImage{MimeType: mimeType, Data: data}, nil
}
