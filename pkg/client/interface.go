package client

import (
	"context"

	"github.com/menta2k/hat-overlay/pkg/types"
)

// VisionClient answers a text prompt about a single image
type VisionClient interface {
	SimpleQuery(ctx context.Context, model, prompt string, img types.InlineImage) (string, error)
}

// ImageEditor returns a re-rendered image for a prompt and its input images
type ImageEditor interface {
	GenerateImage(ctx context.Context, model, prompt string, images []types.InlineImage) (types.InlineImage, error)
}
