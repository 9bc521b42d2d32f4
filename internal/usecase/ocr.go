package usecase

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// Pipeline stage names reported in metadata.
var pipelineSteps = []string{"segmentation", "text_recognition", "phi_filtering", "drug_information"}

// OCROptions are the defaults applied when the task context leaves a
// pipeline switch unset.
type OCROptions struct {
	Mode         string
	FilterPHI    bool
	ExtractDrugs bool
}

// OCRAgent runs the document pipeline over its four sub-agents:
// segmentation, text recognition, PHI filtering and drug extraction.
type OCRAgent struct {
	*Base
	opts OCROptions
}

// NewOCRAgent creates an OCRAgent. Register the four stage agents on it.
func NewOCRAgent(opts OCROptions, logger *slog.Logger) *OCRAgent {
	if opts.Mode == "" {
		opts.Mode = domain.ModeFull
	}
	return &OCRAgent{
		Base: NewBase(domain.AgentOCR,
			"Main OCR agent that coordinates segmentation, text recognition, and PHI filtering",
			`You are the main OCR coordinator. Your job is to:
1. Analyze incoming OCR requests
2. Delegate segmentation tasks to SegmentationAgent
3. Delegate text recognition to TextRecognitionAgent
4. Delegate PHI filtering to PHIFilterAgent
5. Combine and format final results
6. Handle errors and provide fallbacks`,
			logger),
		opts: opts,
	}
}

// Process runs the pipeline selected by tc.Mode.
func (a *OCRAgent) Process(ctx context.Context, task string, tc domain.TaskContext) *domain.Response {
	return a.Serve(ctx, task, tc, func(ctx context.Context) *domain.Response {
		if tc.Image == nil {
			return domain.Fail(a.Name(), "No image provided in context")
		}

		mode := tc.Mode
		if mode == "" {
			mode = a.opts.Mode
		}
		switch mode {
		case domain.ModeSegmentOnly:
			return a.segmentOnly(ctx, tc)
		case domain.ModeOCROnly:
			return a.ocrOnly(ctx, tc)
		default:
			return a.fullPipeline(ctx, tc)
		}
	})
}

// delegate wraps DelegateTo, turning a missing sub-agent into a failed
// response so callers only deal with one failure shape.
func (a *OCRAgent) delegate(ctx context.Context, agent, task string, tc domain.TaskContext) *domain.Response {
	resp, err := a.DelegateTo(ctx, agent, task, tc)
	if err != nil {
		return domain.Fail(agent, err.Error())
	}
	return resp
}

// imageContext is the context handed to stages that work on the whole page.
// Regions and masks from the caller are dropped so recognition reads the
// full image.
func imageContext(tc domain.TaskContext) domain.TaskContext {
	out := tc.Clone()
	out.Regions = nil
	out.Masks = nil
	return out
}

func (a *OCRAgent) segmentOnly(ctx context.Context, tc domain.TaskContext) *domain.Response {
	return a.delegate(ctx, domain.AgentSegmentation, "Segment this image into regions", tc.Clone())
}

func (a *OCRAgent) ocrOnly(ctx context.Context, tc domain.TaskContext) *domain.Response {
	ocr := a.delegate(ctx, domain.AgentTextRecognition, "Recognize all text in this image", imageContext(tc))
	if ocr.Failed() {
		return ocr
	}
	if !domain.BoolOr(tc.FilterPHI, a.opts.FilterPHI) {
		return ocr
	}

	text := recognizedText(ocr)
	if strings.TrimSpace(text) == "" {
		return ocr
	}
	phi := a.delegate(ctx, domain.AgentPHIFilter, "Filter PHI from this text", domain.TaskContext{Text: text})
	if phi.Failed() || phi.Data == nil {
		a.Logger().Warn("phi filtering failed, returning unfiltered text", "error", phi.Error)
		return ocr
	}

	metadata := maps.Clone(ocr.Metadata)
	maps.Copy(metadata, phi.Metadata)
	return domain.OK(a.Name(),
		&domain.Data{
			TextRecognition: ocr.Data.TextRecognition,
			PHIFiltering:    phi.Data.PHIFiltering,
		},
		append(append([]string{}, ocr.ToolsUsed...), phi.ToolsUsed...),
		metadata,
	)
}

// fullPipeline runs the four stages in order. Only text recognition is
// fatal; the drug stage only ever sees the text produced by the PHI stage.
func (a *OCRAgent) fullPipeline(ctx context.Context, tc domain.TaskContext) *domain.Response {
	toolsUsed := []string{}
	log := a.Logger()

	seg := a.delegate(ctx, domain.AgentSegmentation, "Detect and extract regions from this image", imageContext(tc))
	segmentation := &domain.SegmentationResult{}
	if seg.Failed() {
		log.Warn("segmentation failed, continuing with full image", "error", seg.Error)
	} else {
		toolsUsed = append(toolsUsed, seg.ToolsUsed...)
		if seg.Data != nil && seg.Data.Segmentation != nil {
			segmentation.Regions = seg.Data.Segmentation.Regions
			segmentation.NumRegions = len(segmentation.Regions)
		}
		log.Info("segmentation done", "regions", segmentation.NumRegions)
	}

	ocr := a.delegate(ctx, domain.AgentTextRecognition, "Recognize all text in this image", imageContext(tc))
	if ocr.Failed() {
		log.Error("text recognition failed", "error", ocr.Error)
		return domain.Fail(a.Name(), "Text recognition failed: "+ocr.Error)
	}
	toolsUsed = append(toolsUsed, ocr.ToolsUsed...)
	text := recognizedText(ocr)
	var rawResults map[string]any
	if ocr.Data != nil && ocr.Data.TextRecognition != nil {
		rawResults = ocr.Data.TextRecognition.RawResults
	}
	log.Info("text recognized", "chars", len(text))

	filtering := &domain.FilteringResult{
		RedactedText:   text,
		PHIEntities:    []domain.PHIEntity{},
		PHISummary:     map[string]int{},
		OriginalLength: len(text),
		RedactedLength: len(text),
	}
	phiFiltered := false
	if domain.BoolOr(tc.FilterPHI, a.opts.FilterPHI) && strings.TrimSpace(text) != "" {
		phi := a.delegate(ctx, domain.AgentPHIFilter, "Filter PHI from extracted text", domain.TaskContext{Text: text})
		if phi.Failed() || phi.Data == nil || phi.Data.PHIFiltering == nil {
			log.Warn("phi filtering failed, continuing with unfiltered text", "error", phi.Error)
		} else {
			toolsUsed = append(toolsUsed, phi.ToolsUsed...)
			filtering = phi.Data.PHIFiltering
			phiFiltered = true
		}
	}
	redacted := filtering.RedactedText

	var drugs *domain.ExtractionResult
	medicationsFound := 0
	if domain.BoolOr(tc.ExtractDrugs, a.opts.ExtractDrugs) && strings.TrimSpace(redacted) != "" {
		drug := a.delegate(ctx, domain.AgentDrugInformation, "Extract medications and find drug alternatives",
			domain.TaskContext{Text: redacted})
		if drug.Failed() || drug.Data == nil || drug.Data.DrugInformation == nil {
			log.Warn("drug extraction failed", "error", drug.Error)
		} else {
			toolsUsed = append(toolsUsed, drug.ToolsUsed...)
			drugs = drug.Data.DrugInformation
			medicationsFound = drugs.TotalMedications
		}
	}

	log.Info("pipeline completed", "phi_filtered", phiFiltered, "medications", medicationsFound)
	return domain.OK(a.Name(),
		&domain.Data{
			Segmentation:    segmentation,
			TextRecognition: &domain.RecognitionResult{Text: text, RawResults: rawResults},
			PHIFiltering:    filtering,
			DrugInformation: drugs,
		},
		toolsUsed,
		map[string]any{
			"pipeline_steps":    slices.Clone(pipelineSteps),
			"num_regions":       segmentation.NumRegions,
			"text_length":       len(text),
			"phi_filtered":      phiFiltered,
			"medications_found": medicationsFound,
		},
	)
}

func recognizedText(resp *domain.Response) string {
	if resp == nil || resp.Data == nil || resp.Data.TextRecognition == nil {
		return ""
	}
	return resp.Data.TextRecognition.Text
}

var _ domain.Agent = (*OCRAgent)(nil)
