package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/chih3b/SanteConnect/internal/adapter/imaging"
	"github.com/chih3b/SanteConnect/internal/domain"
)

// HandwritingConfig configures the hosted handwriting recognition model.
type HandwritingConfig struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

type generatedText struct {
	GeneratedText string `json:"generated_text"`
}

// parseGeneratedText accepts both the list and the single-object shapes
// returned by inference endpoints.
func parseGeneratedText(body []byte) (string, error) {
	var list []generatedText
	if err := json.Unmarshal(body, &list); err == nil {
		if len(list) == 0 {
			return "", nil
		}
		return list[0].GeneratedText, nil
	}
	var one generatedText
	if err := json.Unmarshal(body, &one); err != nil {
		return "", err
	}
	return one.GeneratedText, nil
}

// NewHandwritingTool returns the trocr_recognize tool.
func NewHandwritingTool(cfg HandwritingConfig) domain.Tool {
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient(0)
	}
	return NewFunc(domain.ToolHandwritingOCR, "Recognize handwritten text using TrOCR model", imageParamSpec,
		func(ctx context.Context, p imageParams) (any, error) {
			if cfg.Endpoint == "" {
				return nil, errors.New("handwriting model not configured")
			}
			png, err := imaging.EncodePNG(p.Image)
			if err != nil {
				return nil, err
			}
			headers := map[string]string{"Content-Type": "image/png"}
			if cfg.APIKey != "" {
				headers["Authorization"] = "Bearer " + cfg.APIKey
			}
			res, err := doRequest(ctx, client, http.MethodPost, cfg.Endpoint, png, headers)
			if err != nil {
				return nil, fmt.Errorf("handwriting: %w", err)
			}
			text, err := parseGeneratedText(res.body)
			if err != nil {
				return nil, fmt.Errorf("%w: handwriting: decode response: %v", domain.ErrProviderError, err)
			}
			return text, nil
		})
}
