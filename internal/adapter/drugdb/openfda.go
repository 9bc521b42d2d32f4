package drugdb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
)

const (
	fdaLimit         = 5
	fdaMaxBrands     = 3
	fdaMaxIndication = 200
)

// OpenFDAClient queries the openFDA drug label endpoint.
type OpenFDAClient struct {
	baseURL string
	client  *http.Client
}

// NewOpenFDAClient creates the priority-3 source.
func NewOpenFDAClient(cfg config.SourceConfig) *OpenFDAClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.fda.gov"
	}
	return &OpenFDAClient{baseURL: baseURL, client: newHTTPClient(cfg.Timeout)}
}

func (c *OpenFDAClient) Label() string { return domain.SourceOpenFDA }
func (c *OpenFDAClient) Priority() int { return 3 }

type fdaLabel struct {
	OpenFDA struct {
		GenericName      []string `json:"generic_name"`
		BrandName        []string `json:"brand_name"`
		ManufacturerName []string `json:"manufacturer_name"`
	} `json:"openfda"`
	IndicationsAndUsage []string `json:"indications_and_usage"`
}

type fdaResponse struct {
	Results []fdaLabel `json:"results"`
}

// Lookup searches labels by generic name, then by brand name.
func (c *OpenFDAClient) Lookup(ctx context.Context, name string) (*domain.SourceResult, error) {
	labels, err := c.search(ctx, "openfda.generic_name", name)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		if labels, err = c.search(ctx, "openfda.brand_name", name); err != nil {
			return nil, err
		}
	}
	if len(labels) == 0 {
		return &domain.SourceResult{}, nil
	}

	alts := make([]domain.Alternative, 0, len(labels))
	for _, l := range labels {
		brands := l.OpenFDA.BrandName
		if len(brands) > fdaMaxBrands {
			brands = brands[:fdaMaxBrands]
		}
		alts = append(alts, domain.Alternative{
			GenericName:  firstOr(l.OpenFDA.GenericName, "Unknown"),
			BrandNames:   nonNil(brands),
			Manufacturer: firstOr(l.OpenFDA.ManufacturerName, "Unknown"),
			Indication:   truncate(firstOr(l.IndicationsAndUsage, "Not available"), fdaMaxIndication),
		})
	}
	return &domain.SourceResult{Found: true, Alternatives: alts}, nil
}

// search returns no labels (and no error) when openFDA reports no matches,
// which it does with a 404.
func (c *OpenFDAClient) search(ctx context.Context, field, name string) ([]fdaLabel, error) {
	q := url.Values{}
	q.Set("search", fmt.Sprintf("%s:%q", field, name))
	q.Set("limit", fmt.Sprint(fdaLimit))

	var resp fdaResponse
	if err := doJSON(ctx, c.client, c.baseURL+"/drug/label.json?"+q.Encode(), nil, nil, &resp); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Results, nil
}

func firstOr(s []string, def string) string {
	if len(s) == 0 || s[0] == "" {
		return def
	}
	return s[0]
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

var _ domain.DrugSource = (*OpenFDAClient)(nil)
