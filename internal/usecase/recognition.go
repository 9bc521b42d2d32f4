package usecase

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strings"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// Recognition methods accepted in TaskContext.Method.
const (
	MethodAuto  = "auto"
	MethodAzure = "azure"
	MethodTrOCR = "trocr"
)

// recognizer is one OCR engine the agent can run on an image.
type recognizer struct {
	key   string // raw_results key and method name
	tool  string
	lines func(res any) ([]string, error)
}

var recognizers = []recognizer{
	{key: MethodAzure, tool: domain.ToolPrintedOCR, lines: printedLines},
	{key: MethodTrOCR, tool: domain.ToolHandwritingOCR, lines: handwrittenLines},
}

func printedLines(res any) ([]string, error) {
	rr, err := resultAs[*domain.ReadResult](domain.ToolPrintedOCR, res)
	if err != nil {
		return nil, err
	}
	if rr == nil || rr.Status != domain.ReadSucceeded {
		return nil, nil
	}
	out := make([]string, 0, len(rr.Lines))
	for _, l := range rr.Lines {
		if l != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

func handwrittenLines(res any) ([]string, error) {
	s, err := resultAs[string](domain.ToolHandwritingOCR, res)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return []string{s}, nil
}

// TextRecognitionAgent turns an image, or a set of cropped regions, into text.
type TextRecognitionAgent struct {
	*Base
	method string
}

// NewTextRecognitionAgent creates a TextRecognitionAgent. method is the
// default engine selector used when the task context does not set one.
func NewTextRecognitionAgent(method string, logger *slog.Logger) *TextRecognitionAgent {
	if method == "" {
		method = MethodAuto
	}
	return &TextRecognitionAgent{
		Base: NewBase(domain.AgentTextRecognition,
			"Recognizes text from images using OCR and handwriting recognition models",
			`You are a text recognition specialist. Your job is to:
1. Extract printed text using the OCR engine
2. Recognize handwritten text
3. Process multiple regions and aggregate results
4. Format and structure extracted text`,
			logger),
		method: method,
	}
}

// Process recognizes text from tc.Regions when set, otherwise from tc.Image.
func (a *TextRecognitionAgent) Process(ctx context.Context, task string, tc domain.TaskContext) *domain.Response {
	return a.Serve(ctx, task, tc, func(ctx context.Context) *domain.Response {
		method := tc.Method
		if method == "" {
			method = a.method
		}

		switch {
		case tc.Regions != nil:
			return a.recognizeRegions(ctx, tc.Regions, method)
		case tc.Image != nil:
			return a.recognizeImage(ctx, tc.Image, method)
		default:
			return domain.Fail(a.Name(), "No image or regions provided in context")
		}
	})
}

type recognition struct {
	text      string
	raw       map[string]any
	toolsUsed []string
}

// recognize runs every engine selected by method on img. Engines that fail
// are skipped; it errors only when no engine could run or all of them failed.
func (a *TextRecognitionAgent) recognize(ctx context.Context, img image.Image, method string) (*recognition, error) {
	out := &recognition{raw: map[string]any{}, toolsUsed: []string{}}
	var parts []string
	var errs []error
	attempted := 0

	for _, r := range recognizers {
		if method != MethodAuto && method != r.key {
			continue
		}
		if !a.HasTool(r.tool) {
			a.Logger().Debug("recognition engine not registered", "method", r.key, "tool", r.tool)
			continue
		}
		attempted++

		res, err := a.UseTool(ctx, r.tool, domain.Args{"image": img})
		if err == nil {
			var lines []string
			if lines, err = r.lines(res); err == nil {
				out.raw[r.key] = res
				out.toolsUsed = append(out.toolsUsed, r.tool)
				parts = append(parts, lines...)
				continue
			}
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		errs = append(errs, err)
	}

	switch {
	case attempted == 0:
		return nil, fmt.Errorf("no recognition engine available for method %q", method)
	case len(errs) == attempted:
		return nil, errors.Join(errs...)
	}

	out.text = strings.Join(parts, "\n")
	return out, nil
}

func (a *TextRecognitionAgent) recognizeImage(ctx context.Context, img image.Image, method string) *domain.Response {
	rec, err := a.recognize(ctx, img, method)
	if err != nil {
		return domain.Fail(a.Name(), "Text recognition failed: "+err.Error())
	}
	a.Logger().Info("recognized text", "method", method, "chars", len(rec.text))

	return domain.OK(a.Name(),
		&domain.Data{TextRecognition: &domain.RecognitionResult{Text: rec.text, RawResults: rec.raw}},
		rec.toolsUsed,
		map[string]any{
			"methods_used": domain.SortedNames(rec.raw),
			"text_length":  len(rec.text),
		},
	)
}

// recognizeRegions recognizes each region on its own. Regions without an
// image or without text are left out of the result; a region whose engines
// all fail is skipped.
func (a *TextRecognitionAgent) recognizeRegions(ctx context.Context, regions []domain.Region, method string) *domain.Response {
	var texts []string
	results := []domain.RegionText{}
	var toolsUsed []string

	for _, region := range regions {
		if region.Image == nil {
			continue
		}
		rec, err := a.recognize(ctx, region.Image, method)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return domain.Fail(a.Name(), "Region text recognition failed: "+err.Error())
			}
			a.Logger().Warn("region recognition failed", "region", region.ID, "error", err)
			continue
		}
		if strings.TrimSpace(rec.text) == "" {
			continue
		}
		results = append(results, domain.RegionText{
			RegionID:   region.ID,
			BBox:       region.BBox,
			Text:       rec.text,
			RawResults: rec.raw,
		})
		texts = append(texts, rec.text)
		for _, t := range rec.toolsUsed {
			if !slices.Contains(toolsUsed, t) {
				toolsUsed = append(toolsUsed, t)
			}
		}
	}

	combined := strings.Join(texts, "\n")
	a.Logger().Info("recognized regions", "regions", len(regions), "with_text", len(results))

	return domain.OK(a.Name(),
		&domain.Data{TextRecognition: &domain.RecognitionResult{
			Text:       combined,
			Regions:    results,
			NumRegions: len(results),
		}},
		toolsUsed,
		map[string]any{
			"num_regions_processed": len(regions),
			"num_regions_with_text": len(results),
			"total_text_length":     len(combined),
		},
	)
}

var _ domain.Agent = (*TextRecognitionAgent)(nil)
