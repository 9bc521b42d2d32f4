package drugdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"go.opentelemetry.io/otel/trace"

	"github.com/chih3b/SanteConnect/internal/domain"
	"github.com/chih3b/SanteConnect/internal/infra/config"
	"github.com/chih3b/SanteConnect/internal/infra/tracer"
)

// answerSchema is the shape the model is asked to answer in.
var answerSchema = []byte(`{
	"type": "object",
	"required": ["uses"],
	"properties": {
		"uses": {"type": "string", "minLength": 1},
		"dosages": {"type": "string"},
		"alternatives": {
			"type": "array",
			"maxItems": 5,
			"items": {
				"type": "object",
				"required": ["generic_name"],
				"properties": {
					"generic_name": {"type": "string", "minLength": 1},
					"indication": {"type": "string"}
				}
			}
		}
	}
}`)

const promptTemplate = `Provide brief medical information about the medication %q.
Answer with a single JSON object and nothing else:
{"uses": "what it is used for", "dosages": "common dosages", "alternatives": [{"generic_name": "...", "indication": "..."}]}
List 2-3 alternative medications with similar effects. Keep the answer under 150 words.`

type llmAnswer struct {
	Uses         string `json:"uses"`
	Dosages      string `json:"dosages"`
	Alternatives []struct {
		GenericName string `json:"generic_name"`
		Indication  string `json:"indication"`
	} `json:"alternatives"`
}

// LLMClient is the generative fallback, backed by any OpenAI-compatible
// chat completions API.
type LLMClient struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	client      *http.Client
	schema      *jsonschema.Schema
}

// NewLLMClient creates the priority-4 source.
func NewLLMClient(cfg config.LLMConfig) (*LLMClient, error) {
	schema, err := jsonschema.NewCompiler().Compile(answerSchema)
	if err != nil {
		return nil, fmt.Errorf("compile answer schema: %w", err)
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("llm base_url is required")
	}
	return &LLMClient{
		baseURL:     baseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		client:      newHTTPClient(cfg.Timeout),
		schema:      schema,
	}, nil
}

func (c *LLMClient) Label() string { return domain.SourceLLM }
func (c *LLMClient) Priority() int { return 4 }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Lookup asks the model about name. A structured answer yields
// alternatives; free text that fails validation is still returned as
// text_from_llm.
func (c *LLMClient) Lookup(ctx context.Context, name string) (*domain.SourceResult, error) {
	ctx, span := tracer.StartSpan(ctx, "llm.chat",
		trace.WithAttributes(tracer.StringAttr("llm.model", c.model)),
	)
	defer span.End()

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: fmt.Sprintf(promptTemplate, name)}},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp chatResponse
	if err := doJSON(ctx, c.client, c.baseURL+"/chat/completions", body, headers, &resp); err != nil {
		tracer.RecordError(span, err)
		return nil, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		tracer.SetOK(span)
		return &domain.SourceResult{}, nil
	}
	content := resp.Choices[0].Message.Content

	answer, err := c.parseAnswer(content)
	tracer.SetOK(span)
	if err != nil {
		return &domain.SourceResult{Found: true, TextFromLLM: strings.TrimSpace(content)}, nil
	}

	res := &domain.SourceResult{Found: true, TextFromLLM: answer.text()}
	for _, a := range answer.Alternatives {
		res.Alternatives = append(res.Alternatives, domain.Alternative{
			GenericName: a.GenericName,
			BrandNames:  []string{},
			Indication:  a.Indication,
		})
	}
	return res, nil
}

func (c *LLMClient) parseAnswer(content string) (*llmAnswer, error) {
	raw := stripCodeFences(content)
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("answer is not JSON: %w", err)
	}
	if result := c.schema.Validate(data); !result.IsValid() {
		return nil, fmt.Errorf("%s", result.Error())
	}
	var answer llmAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, err
	}
	return &answer, nil
}

func (a *llmAnswer) text() string {
	var b strings.Builder
	b.WriteString("Uses: " + a.Uses)
	if a.Dosages != "" {
		b.WriteString("\nCommon dosages: " + a.Dosages)
	}
	if len(a.Alternatives) > 0 {
		names := make([]string, 0, len(a.Alternatives))
		for _, alt := range a.Alternatives {
			names = append(names, alt.GenericName)
		}
		b.WriteString("\nAlternatives: " + strings.Join(names, ", "))
	}
	return b.String()
}

// codeFenceRe matches markdown code fences wrapping JSON.
var codeFenceRe = regexp.MustCompile(`(?si)^` + "```" + `(?:json)?\s*(.*?)\s*` + "```" + `$`)

// stripCodeFences removes markdown code fences if the model wrapped its output.
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return s
}

var _ domain.DrugSource = (*LLMClient)(nil)
