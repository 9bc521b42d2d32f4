package drugdb

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
)

const (
	rxnormMaxConcepts = 10
	rxnormMaxBrands   = 5
)

// RxNormClient queries the NIH RxNav REST API.
type RxNormClient struct {
	baseURL string
	client  *http.Client
}

// NewRxNormClient creates the priority-2 source.
func NewRxNormClient(cfg config.SourceConfig) *RxNormClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://rxnav.nlm.nih.gov/REST"
	}
	return &RxNormClient{baseURL: baseURL, client: newHTTPClient(cfg.Timeout)}
}

func (c *RxNormClient) Label() string { return domain.SourceRxNorm }
func (c *RxNormClient) Priority() int { return 2 }

type rxConceptGroups struct {
	ConceptGroup []struct {
		TTY               string `json:"tty"`
		ConceptProperties []struct {
			RxCUI string `json:"rxcui"`
			Name  string `json:"name"`
		} `json:"conceptProperties"`
	} `json:"conceptGroup"`
}

type rxDrugsResponse struct {
	DrugGroup rxConceptGroups `json:"drugGroup"`
}

type rxRelatedResponse struct {
	RelatedGroup rxConceptGroups `json:"relatedGroup"`
}

// Lookup finds concepts matching name, then fetches brand names for each.
func (c *RxNormClient) Lookup(ctx context.Context, name string) (*domain.SourceResult, error) {
	var resp rxDrugsResponse
	if err := doJSON(ctx, c.client, c.baseURL+"/drugs.json?name="+url.QueryEscape(name), nil, nil, &resp); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return &domain.SourceResult{}, nil
		}
		return nil, err
	}

	var alts []domain.Alternative
	for _, g := range resp.DrugGroup.ConceptGroup {
		for _, p := range g.ConceptProperties {
			if len(alts) == rxnormMaxConcepts {
				break
			}
			alts = append(alts, domain.Alternative{
				GenericName:  p.Name,
				BrandNames:   c.brandNames(ctx, p.RxCUI),
				Manufacturer: "Various",
				Indication:   "See prescribing information",
				RxCUI:        p.RxCUI,
			})
		}
	}
	if len(alts) == 0 {
		return &domain.SourceResult{}, nil
	}
	return &domain.SourceResult{Found: true, Alternatives: alts}, nil
}

// brandNames is best-effort: any failure yields an empty list.
func (c *RxNormClient) brandNames(ctx context.Context, rxcui string) []string {
	names := []string{}
	if rxcui == "" {
		return names
	}
	var resp rxRelatedResponse
	u := c.baseURL + "/rxcui/" + url.PathEscape(rxcui) + "/related.json?tty=BN"
	if err := doJSON(ctx, c.client, u, nil, nil, &resp); err != nil {
		return names
	}
	for _, g := range resp.RelatedGroup.ConceptGroup {
		for _, p := range g.ConceptProperties {
			if len(names) == rxnormMaxBrands {
				return names
			}
			names = append(names, p.Name)
		}
	}
	return names
}

var _ domain.DrugSource = (*RxNormClient)(nil)
