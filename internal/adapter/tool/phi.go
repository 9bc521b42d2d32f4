package tool

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// phiPattern is one regex rule of the PHI catalogue. When group is non-zero
// only that capture group is redacted.
type phiPattern struct {
	label string
	re    *regexp.Regexp
	group int
	// keep, when set, must accept the match's surroundings.
	keep func(text string, start, end int) bool
}

var idContext = regexp.MustCompile(`(?i)\b(MRN|ID|Patient|Acct|Account|Record|No\.?)\b`)

// idHasContext accepts a long number only when an identifier keyword
// appears within 20 bytes of it.
func idHasContext(text string, start, end int) bool {
	lo := max(0, start-20)
	hi := min(len(text), end+20)
	return idContext.MatchString(text[lo:hi])
}

var phiCatalogue = []phiPattern{
	{label: "NAME", group: 1, re: regexp.MustCompile(`(?i)(?:Name|Patient\s*Name|Patient):\s*([A-Z][a-z]+(?:\s+[A-Z][a-z]+)+?)(?:\s+Address|$|\s*\n)`)},
	{label: "ADDRESS", group: 1, re: regexp.MustCompile(`(?i)(?:Address|Street|Location):\s*([A-Z0-9][^\n]{5,60}?)(?:\s+Age|Sex|Date|$|\s*\n)`)},
	{label: "AGE", group: 1, re: regexp.MustCompile(`(?i)(?:Age):\s*(\d{1,3})`)},
	{label: "DATE", re: regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}[-/]\d{2,4}\b`)},
	{label: "DATE", re: regexp.MustCompile(`(?i)\b(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+\d{1,2},?\s+\d{2,4}\b`)},
	{label: "LICENSE", group: 1, re: regexp.MustCompile(`(?i)(?:Lic\.?\s*No\.?|License\s*No\.?|PTR\s*No\.?|S2\s*No\.?)[\s:]*(\d+)`)},
	{label: "EMAIL", re: regexp.MustCompile(`[\w.-]+@[\w.-]+\.[a-zA-Z]{2,}`)},
	{label: "PHONE", re: regexp.MustCompile(`\b(?:\+\d{1,3}[- ]?)?(?:\(\d{2,4}\)|\d{2,4})[- ]?\d{3,4}[- ]?\d{3,4}\b`)},
	{label: "ID", re: regexp.MustCompile(`\b\d{6,}\b`), keep: idHasContext},
	{label: "SSN", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
}

// detectPatterns runs the regex catalogue over text. Offsets are byte offsets.
func detectPatterns(text string) []domain.PHIEntity {
	var spans []domain.PHIEntity
	for _, p := range phiCatalogue {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			if start < 0 {
				continue
			}
			if p.keep != nil && !p.keep(text, start, end) {
				continue
			}
			spans = append(spans, domain.PHIEntity{Type: p.label, Original: text[start:end], Start: start, End: end})
		}
	}
	return spans
}

// redact sorts and deduplicates spans, then replaces each one with a
// [LABEL_REDACTED] marker placed at the span start. Overlapping spans are
// all blanked; the last span starting at a position owns its marker.
func redact(text string, spans []domain.PHIEntity) (string, []domain.PHIEntity) {
	slices.SortFunc(spans, func(a, b domain.PHIEntity) int {
		return cmp.Or(cmp.Compare(a.Start, b.Start), cmp.Compare(a.End, b.End),
			cmp.Compare(a.Type, b.Type), cmp.Compare(a.Original, b.Original))
	})
	spans = slices.Compact(spans)

	blank := make([]bool, len(text))
	markers := make(map[int]string, len(spans))
	for _, s := range spans {
		for i := s.Start; i < min(s.End, len(text)); i++ {
			blank[i] = true
		}
		if s.Start < len(text) {
			markers[s.Start] = "[" + s.Type + "_REDACTED]"
		}
	}

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if m, ok := markers[i]; ok {
			b.WriteString(m)
			continue
		}
		if !blank[i] {
			b.WriteByte(text[i])
		}
	}
	if spans == nil {
		spans = []domain.PHIEntity{}
	}
	return b.String(), spans
}

// NERConfig configures the optional hosted named-entity recognizer used
// alongside the regex catalogue.
type NERConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Client   *http.Client
}

type nerEntity struct {
	EntityGroup string `json:"entity_group"`
	Entity      string `json:"entity"`
	Word        string `json:"word"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
}

var nerTypes = map[string]bool{"PER": true, "PERSON": true, "ORG": true, "LOC": true, "MISC": true}

// groupNER merges adjacent tokens of the same entity type (at most two
// characters apart) into single spans.
func groupNER(ents []nerEntity) []nerEntity {
	var out []nerEntity
	var cur *nerEntity
	for _, e := range ents {
		typ := e.EntityGroup
		if typ == "" {
			typ = e.Entity
		}
		typ = strings.NewReplacer("B-", "", "I-", "").Replace(strings.ToUpper(typ))
		if !nerTypes[typ] {
			continue
		}
		if cur != nil && cur.EntityGroup == typ && e.Start <= cur.End+2 {
			cur.End = e.End
			cur.Word += " " + e.Word
			continue
		}
		if cur != nil {
			out = append(out, *cur)
		}
		cur = &nerEntity{EntityGroup: typ, Word: e.Word, Start: e.Start, End: e.End}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}

// runeToByte converts a character offset reported by the recognizer into a
// byte offset into text.
func runeToByte(text string, n int) int {
	if n <= 0 {
		return 0
	}
	i := 0
	for pos := range text {
		if i == n {
			return pos
		}
		i++
	}
	return len(text)
}

func detectNER(ctx context.Context, client *http.Client, cfg NERConfig, text string) ([]domain.PHIEntity, error) {
	body, err := json.Marshal(map[string]string{"inputs": text})
	if err != nil {
		return nil, err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	res, err := doRequest(ctx, client, http.MethodPost, cfg.Endpoint, body, headers)
	if err != nil {
		return nil, err
	}
	var ents []nerEntity
	if err := json.Unmarshal(res.body, &ents); err != nil {
		return nil, fmt.Errorf("%w: decode ner response: %v", domain.ErrProviderError, err)
	}

	ascii := utf8.RuneCountInString(text) == len(text)
	var spans []domain.PHIEntity
	for _, g := range groupNER(ents) {
		start, end := g.Start, g.End
		if !ascii {
			start, end = runeToByte(text, start), runeToByte(text, end)
		}
		if start < 0 || end > len(text) || start >= end {
			continue
		}
		spans = append(spans, domain.PHIEntity{Type: g.EntityGroup, Original: g.Word, Start: start, End: end})
	}
	return spans, nil
}

type phiParams struct {
	Text string `mapstructure:"text"`
}

// NewPHIFilterTool returns the filter_phi tool. The regex catalogue always
// runs; the recognizer is consulted first when configured, and its failures
// only cost recall.
func NewPHIFilterTool(ner NERConfig, logger *slog.Logger) domain.Tool {
	client := ner.Client
	if client == nil {
		client = NewHTTPClient(0)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return NewFunc(domain.ToolFilterPHI, "Detect and redact Protected Health Information from text",
		map[string]domain.ParamSpec{
			"text": {Type: "string", Description: "Input text to filter", Required: true},
		},
		func(ctx context.Context, p phiParams) (any, error) {
			if p.Text == "" {
				return &domain.PHIOutput{RedactedText: "", PHI: []domain.PHIEntity{}}, nil
			}

			var spans []domain.PHIEntity
			if ner.Enabled && ner.Endpoint != "" {
				found, err := detectNER(ctx, client, ner, p.Text)
				switch {
				case err == nil:
					spans = append(spans, found...)
				case errors.Is(err, context.Canceled):
					return nil, err
				default:
					logger.Warn("ner detection failed", "error", err)
				}
			}
			spans = append(spans, detectPatterns(p.Text)...)

			redacted, entities := redact(p.Text, spans)
			return &domain.PHIOutput{RedactedText: redacted, PHI: entities}, nil
		})
}
