package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chih3b/SanteConnect/internal/adapter/imaging"
	"github.com/chih3b/SanteConnect/internal/domain"
)

// AzureReadConfig configures the Azure Computer Vision Read client.
type AzureReadConfig struct {
	Endpoint     string
	APIKey       string
	PollAttempts int
	PollInterval time.Duration
	Client       *http.Client
}

type azureReadResponse struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		ReadResults []struct {
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"readResults"`
	} `json:"analyzeResult"`
}

func (r *azureReadResponse) lines() []string {
	var out []string
	for _, page := range r.AnalyzeResult.ReadResults {
		for _, line := range page.Lines {
			out = append(out, line.Text)
		}
	}
	return out
}

// NewAzureReadTool returns the azure_vision_ocr tool. The Read API is
// asynchronous: the image is submitted, then the operation is polled until
// it succeeds, fails, or the poll budget runs out.
func NewAzureReadTool(cfg AzureReadConfig) domain.Tool {
	client := cfg.Client
	if client == nil {
		client = NewHTTPClient(0)
	}
	attempts := cfg.PollAttempts
	if attempts <= 0 {
		attempts = 10
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	endpoint := strings.TrimRight(cfg.Endpoint, "/")

	return NewFunc(domain.ToolPrintedOCR, "Extract printed text using Azure Computer Vision", imageParamSpec,
		func(ctx context.Context, p imageParams) (any, error) {
			if endpoint == "" || cfg.APIKey == "" {
				return nil, errors.New("azure ocr not configured")
			}
			png, err := imaging.EncodePNG(p.Image)
			if err != nil {
				return nil, err
			}

			auth := map[string]string{"Ocp-Apim-Subscription-Key": cfg.APIKey}
			submit := map[string]string{
				"Ocp-Apim-Subscription-Key": cfg.APIKey,
				"Content-Type":              "application/octet-stream",
			}
			res, err := doRequest(ctx, client, http.MethodPost, endpoint+"/vision/v3.2/read/analyze", png, submit)
			if err != nil {
				return nil, fmt.Errorf("azure read submit: %w", err)
			}
			opURL := res.header.Get("Operation-Location")
			if opURL == "" {
				return nil, fmt.Errorf("%w: azure read: missing Operation-Location header", domain.ErrProviderError)
			}

			var last azureReadResponse
			for range attempts {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(interval):
				}

				res, err := doRequest(ctx, client, http.MethodGet, opURL, nil, auth)
				if err != nil {
					return nil, fmt.Errorf("azure read poll: %w", err)
				}
				last = azureReadResponse{}
				if err := json.Unmarshal(res.body, &last); err != nil {
					return nil, fmt.Errorf("%w: azure read: decode response: %v", domain.ErrProviderError, err)
				}
				if last.Status == domain.ReadSucceeded || last.Status == domain.ReadFailed {
					break
				}
			}
			return &domain.ReadResult{Status: last.Status, Lines: last.lines()}, nil
		})
}
