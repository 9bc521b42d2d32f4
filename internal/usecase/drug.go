package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// Default drug lookup settings.
const (
	DefaultHighConfidence  = 0.85
	DefaultMaxAlternatives = 15
)

// DrugLookupOptions configures how DrugInformationAgent consults its sources.
type DrugLookupOptions struct {
	// Sources are consulted in ascending Priority order.
	Sources []domain.DrugSource
	// Fallback is consulted only when no source found the drug. Optional.
	Fallback domain.DrugSource
	// HighConfidence stops the lookup when the first source matches above it.
	HighConfidence  float64
	MaxAlternatives int
}

// DrugInformationAgent extracts medication mentions from text and looks each
// one up in the configured drug sources.
type DrugInformationAgent struct {
	*Base
	opts DrugLookupOptions
}

// NewDrugInformationAgent creates the agent and registers its own
// extract_medications and query_drug_info tools.
func NewDrugInformationAgent(opts DrugLookupOptions, logger *slog.Logger) *DrugInformationAgent {
	if opts.HighConfidence <= 0 {
		opts.HighConfidence = DefaultHighConfidence
	}
	if opts.MaxAlternatives <= 0 {
		opts.MaxAlternatives = DefaultMaxAlternatives
	}
	opts.Sources = append([]domain.DrugSource(nil), opts.Sources...)
	sort.SliceStable(opts.Sources, func(i, j int) bool {
		return opts.Sources[i].Priority() < opts.Sources[j].Priority()
	})

	a := &DrugInformationAgent{
		Base: NewBase(domain.AgentDrugInformation,
			"Extracts medications from prescription text and finds drug alternatives",
			`You are a specialized agent that:
1. Extracts medication names and dosages from prescription text
2. Queries drug databases for drug information
3. Provides alternative medications and detailed drug information
4. Uses a generative model as fallback when databases have no information
5. Checks the local database of essential medications first

You work with PHI-filtered text to protect patient privacy.`,
			logger),
		opts: opts,
	}

	a.RegisterTool(&localTool{
		name:        domain.ToolExtractMedications,
		description: "Extract medication names and dosages from prescription text",
		params: map[string]domain.ParamSpec{
			"text": {Type: "string", Description: "Prescription text to analyze", Required: true},
		},
		invoke: func(_ context.Context, args domain.Args) (any, error) {
			var p struct {
				Text string `mapstructure:"text"`
			}
			if err := mapstructure.WeakDecode(args, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			return ExtractMedications(p.Text), nil
		},
	})
	a.RegisterTool(&localTool{
		name:        domain.ToolQueryDrugInfo,
		description: "Query drug databases for drug information and alternatives",
		params: map[string]domain.ParamSpec{
			"drug_name": {Type: "string", Description: "Medication name to query", Required: true},
		},
		invoke: func(ctx context.Context, args domain.Args) (any, error) {
			var p struct {
				DrugName string `mapstructure:"drug_name"`
			}
			if err := mapstructure.WeakDecode(args, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
			}
			if p.DrugName == "" {
				return nil, fmt.Errorf("%w: drug_name is empty", domain.ErrInvalidInput)
			}
			return a.LookupDrug(ctx, p.DrugName), nil
		},
	})
	return a
}

// Process extracts medications from tc.Text and attaches what the sources
// know about each. Lookups that fail or find nothing are left out.
func (a *DrugInformationAgent) Process(ctx context.Context, task string, tc domain.TaskContext) *domain.Response {
	return a.Serve(ctx, task, tc, func(ctx context.Context) *domain.Response {
		if tc.Text == "" {
			return domain.Fail(a.Name(), "No text provided for medication extraction")
		}

		res, err := a.UseTool(ctx, domain.ToolExtractMedications, domain.Args{"text": tc.Text})
		if err != nil {
			return domain.Fail(a.Name(), err.Error())
		}
		meds, err := resultAs[[]domain.Medication](domain.ToolExtractMedications, res)
		if err != nil {
			return domain.Fail(a.Name(), err.Error())
		}

		if len(meds) == 0 {
			return domain.OK(a.Name(),
				&domain.Data{DrugInformation: &domain.ExtractionResult{
					Medications:      []domain.Medication{},
					DrugAlternatives: []domain.DrugAlternatives{},
					Message:          "No medications detected in text",
				}},
				[]string{domain.ToolExtractMedications},
				map[string]any{"medications_found": 0, "alternatives_found": 0},
			)
		}
		a.Logger().Info("medications extracted", "count", len(meds))

		alternatives := []domain.DrugAlternatives{}
		for _, med := range meds {
			res, err := a.UseTool(ctx, domain.ToolQueryDrugInfo, domain.Args{"drug_name": med.Name})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return domain.Fail(a.Name(), err.Error())
				}
				continue
			}
			info, err := resultAs[*domain.DrugInfo](domain.ToolQueryDrugInfo, res)
			if err != nil {
				a.Logger().Error("unexpected drug lookup result", "drug", med.Name, "error", err)
				continue
			}
			if info.Found || info.TextFromLLM != "" {
				alternatives = append(alternatives, domain.DrugAlternatives{OriginalDrug: med, DrugInfo: *info})
			}
		}

		return domain.OK(a.Name(),
			&domain.Data{DrugInformation: &domain.ExtractionResult{
				Medications:         meds,
				DrugAlternatives:    alternatives,
				TotalMedications:    len(meds),
				MedicationsWithInfo: len(alternatives),
			}},
			[]string{domain.ToolExtractMedications, domain.ToolQueryDrugInfo},
			map[string]any{
				"medications_found":  len(meds),
				"alternatives_found": len(alternatives),
			},
		)
	})
}

type sourceHit struct {
	source domain.DrugSource
	result *domain.SourceResult
}

// LookupDrug queries the sources in priority order. A match above the high
// confidence threshold from the first source ends the lookup. The fallback
// is asked only when nothing else found the drug. Source errors are logged
// and treated as not found.
func (a *DrugInformationAgent) LookupDrug(ctx context.Context, name string) *domain.DrugInfo {
	var hits []sourceHit
	var checked []string

	for i, src := range a.opts.Sources {
		checked = append(checked, src.Label())
		res, ok := a.lookup(ctx, src, name)
		if !ok {
			continue
		}
		hits = append(hits, sourceHit{source: src, result: res})
		if i == 0 && res.MatchConfidence > a.opts.HighConfidence {
			a.Logger().Info("high confidence match, skipping remaining sources",
				"drug", name, "source", src.Label(), "confidence", res.MatchConfidence)
			return a.combine(name, hits)
		}
	}

	if len(hits) == 0 && a.opts.Fallback != nil {
		checked = append(checked, a.opts.Fallback.Label())
		if res, ok := a.lookup(ctx, a.opts.Fallback, name); ok {
			hits = append(hits, sourceHit{source: a.opts.Fallback, result: res})
		}
	}

	if len(hits) == 0 {
		return &domain.DrugInfo{
			DrugName:            name,
			Message:             "No information found in any database",
			SourcesChecked:      checked,
			Alternatives:        []domain.Alternative{},
			TotalSourcesChecked: len(checked),
		}
	}
	return a.combine(name, hits)
}

func (a *DrugInformationAgent) lookup(ctx context.Context, src domain.DrugSource, name string) (*domain.SourceResult, bool) {
	res, err := src.Lookup(ctx, name)
	if err != nil {
		a.Logger().Error("drug source lookup failed", "source", src.Label(), "drug", name, "error", err)
		return nil, false
	}
	if res == nil || (!res.Found && res.TextFromLLM == "") {
		return nil, false
	}
	a.Logger().Debug("drug found", "source", src.Label(), "drug", name)
	return res, true
}

// combine merges hits into one result. The highest priority hit supplies the
// match details; alternatives from all hits are deduplicated by generic name
// and tagged with the source that reported them.
func (a *DrugInformationAgent) combine(name string, hits []sourceHit) *domain.DrugInfo {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].source.Priority() < hits[j].source.Priority()
	})

	info := &domain.DrugInfo{
		DrugName:            name,
		Found:               true,
		PrimarySource:       hits[0].source.Label(),
		Alternatives:        []domain.Alternative{},
		TotalSourcesChecked: len(hits),
	}

	seen := make(map[string]bool)
	for _, h := range hits {
		info.SourcesFound = append(info.SourcesFound, h.source.Label())
		for _, alt := range h.result.Alternatives {
			key := strings.ToLower(alt.GenericName)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			alt.Source = h.source.Label()
			info.Alternatives = append(info.Alternatives, alt)
		}
	}
	if len(info.Alternatives) > a.opts.MaxAlternatives {
		info.Alternatives = info.Alternatives[:a.opts.MaxAlternatives]
	}

	primary := hits[0].result
	info.MatchConfidence = primary.MatchConfidence
	info.MatchedName = primary.MatchedName
	info.Category = primary.Category
	info.UsageType = primary.UsageType
	info.TextFromLLM = primary.TextFromLLM
	return info
}

// localTool is a tool implemented by the agent that registers it.
type localTool struct {
	name        string
	description string
	params      map[string]domain.ParamSpec
	invoke      func(ctx context.Context, args domain.Args) (any, error)
}

func (t *localTool) Name() string        { return t.name }
func (t *localTool) Description() string { return t.description }

func (t *localTool) Parameters() map[string]domain.ParamSpec { return maps.Clone(t.params) }

func (t *localTool) Invoke(ctx context.Context, args domain.Args) (any, error) {
	return t.invoke(ctx, args)
}

var (
	_ domain.Agent = (*DrugInformationAgent)(nil)
	_ domain.Tool  = (*localTool)(nil)
)
