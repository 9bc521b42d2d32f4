package usecase

import (
	"context"
	"log/slog"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// PHIFilterAgent redacts protected health information from text.
type PHIFilterAgent struct {
	*Base
}

// NewPHIFilterAgent creates a PHIFilterAgent. Register a filter_phi tool on it.
func NewPHIFilterAgent(logger *slog.Logger) *PHIFilterAgent {
	return &PHIFilterAgent{
		Base: NewBase(domain.AgentPHIFilter,
			"Detects and redacts Protected Health Information from text",
			`You are a PHI filtering specialist. Your job is to:
1. Detect all types of PHI in text (names, addresses, dates, IDs, etc.)
2. Redact sensitive information appropriately
3. Provide detailed reports of what was found
4. Ensure HIPAA compliance`,
			logger),
	}
}

// Process filters tc.Text and reports the redacted text with a count of
// entities per PHI type.
func (a *PHIFilterAgent) Process(ctx context.Context, task string, tc domain.TaskContext) *domain.Response {
	return a.Serve(ctx, task, tc, func(ctx context.Context) *domain.Response {
		if tc.Text == "" {
			return domain.Fail(a.Name(), "No text provided in context")
		}

		res, err := a.UseTool(ctx, domain.ToolFilterPHI, domain.Args{"text": tc.Text})
		if err != nil {
			return domain.Fail(a.Name(), err.Error())
		}
		out, err := resultAs[*domain.PHIOutput](domain.ToolFilterPHI, res)
		if err != nil {
			return domain.Fail(a.Name(), err.Error())
		}

		entities := out.PHI
		if entities == nil {
			entities = []domain.PHIEntity{}
		}
		summary := summarizePHI(entities)
		a.Logger().Info("filtered phi", "entities", len(entities))

		return domain.OK(a.Name(),
			&domain.Data{PHIFiltering: &domain.FilteringResult{
				RedactedText:   out.RedactedText,
				PHIEntities:    entities,
				PHISummary:     summary,
				OriginalLength: len(tc.Text),
				RedactedLength: len(out.RedactedText),
			}},
			[]string{domain.ToolFilterPHI},
			map[string]any{
				"num_phi_entities": len(entities),
				"phi_types":        domain.SortedNames(summary),
			},
		)
	})
}

func summarizePHI(entities []domain.PHIEntity) map[string]int {
	summary := make(map[string]int)
	for _, e := range entities {
		typ := e.Type
		if typ == "" {
			typ = "UNKNOWN"
		}
		summary[typ]++
	}
	return summary
}

var _ domain.Agent = (*PHIFilterAgent)(nil)
