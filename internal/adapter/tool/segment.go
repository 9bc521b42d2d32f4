package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"net/http"

	"github.com/chih3b/SanteConnect/internal/adapter/imaging"
	"github.com/chih3b/SanteConnect/internal/domain"
)

// imageParams is the argument shape shared by the single-image tools.
type imageParams struct {
	Image image.Image `mapstructure:"image"`
}

func (p *imageParams) Validate() error {
	if p.Image == nil {
		return errors.New("image is required")
	}
	return nil
}

var imageParamSpec = map[string]domain.ParamSpec{
	"image": {Type: "image", Description: "Input image", Required: true},
}

// SegmentConfig configures the hosted segmentation model client.
type SegmentConfig struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

type segmentRequest struct {
	Image string `json:"image"` // base64 PNG
}

type segmentResponse struct {
	Masks []domain.Mask `json:"masks"`
}

// NewSegmentTool returns the sam2_segment tool. It posts the image to the
// segmentation service and returns the masks it generates.
func NewSegmentTool(cfg SegmentConfig) domain.Tool {
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient(0)
	}
	return NewFunc(domain.ToolSegment, "Segment an image into regions using SAM2 model", imageParamSpec,
		func(ctx context.Context, p imageParams) (any, error) {
			if cfg.Endpoint == "" {
				return nil, errors.New("segmentation model not configured")
			}
			png, err := imaging.EncodePNG(p.Image)
			if err != nil {
				return nil, err
			}
			body, err := json.Marshal(segmentRequest{Image: base64.StdEncoding.EncodeToString(png)})
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}

			headers := map[string]string{"Content-Type": "application/json"}
			if cfg.APIKey != "" {
				headers["Authorization"] = "Bearer " + cfg.APIKey
			}
			res, err := doRequest(ctx, client, http.MethodPost, cfg.Endpoint, body, headers)
			if err != nil {
				return nil, fmt.Errorf("segment: %w", err)
			}

			var out segmentResponse
			if err := json.Unmarshal(res.body, &out); err != nil {
				return nil, fmt.Errorf("%w: segment: decode response: %v", domain.ErrProviderError, err)
			}
			if out.Masks == nil {
				out.Masks = []domain.Mask{}
			}
			return out.Masks, nil
		})
}
