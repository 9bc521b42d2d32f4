package usecase

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"strings"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// DefaultMinArea is the smallest region area, in pixels, kept after extraction.
const DefaultMinArea = 100

// SegmentationAgent splits an image into regions and crops them.
type SegmentationAgent struct {
	*Base
	minArea float64
}

// NewSegmentationAgent creates a SegmentationAgent. minArea <= 0 selects
// DefaultMinArea. Register sam2_segment and extract_regions tools on it.
func NewSegmentationAgent(minArea float64, logger *slog.Logger) *SegmentationAgent {
	if minArea <= 0 {
		minArea = DefaultMinArea
	}
	return &SegmentationAgent{
		Base: NewBase(domain.AgentSegmentation,
			"Segments images into distinct regions and extracts region information",
			`You are a segmentation specialist. Your job is to:
1. Segment images into distinct regions
2. Extract and validate regions
3. Provide region metadata (bounding boxes, areas, confidence scores)
4. Filter out low-quality or irrelevant regions`,
			logger),
		minArea: minArea,
	}
}

// Process dispatches on the task wording: "segment"/"mask" returns masks
// only, "extract"/"region" returns filtered regions, anything else does both.
func (a *SegmentationAgent) Process(ctx context.Context, task string, tc domain.TaskContext) *domain.Response {
	return a.Serve(ctx, task, tc, func(ctx context.Context) *domain.Response {
		if tc.Image == nil {
			return domain.Fail(a.Name(), "No image provided in context")
		}

		lower := strings.ToLower(task)
		switch {
		case strings.Contains(lower, "segment") || strings.Contains(lower, "mask"):
			return a.segment(ctx, tc)
		case strings.Contains(lower, "extract") || strings.Contains(lower, "region"):
			return a.extractRegions(ctx, tc)
		default:
			return a.fullSegmentation(ctx, tc)
		}
	})
}

func (a *SegmentationAgent) segment(ctx context.Context, tc domain.TaskContext) *domain.Response {
	masks, err := a.runSegment(ctx, tc)
	if err != nil {
		return domain.Fail(a.Name(), "Segmentation failed: "+err.Error())
	}
	a.Logger().Info("segmented image", "masks", len(masks))

	return domain.OK(a.Name(),
		&domain.Data{Segmentation: &domain.SegmentationResult{Masks: masks}},
		[]string{domain.ToolSegment},
		map[string]any{"num_masks": len(masks)},
	)
}

func (a *SegmentationAgent) runSegment(ctx context.Context, tc domain.TaskContext) ([]domain.Mask, error) {
	res, err := a.UseTool(ctx, domain.ToolSegment, domain.Args{"image": tc.Image})
	if err != nil {
		return nil, err
	}
	masks, err := resultAs[[]domain.Mask](domain.ToolSegment, res)
	if err != nil {
		return nil, err
	}
	if masks == nil {
		masks = []domain.Mask{}
	}
	return masks, nil
}

// extractRegions crops regions from the masks in tc. Without masks it
// segments first; if segmentation is unavailable the extraction tool falls
// back to its own dark-ink detection.
func (a *SegmentationAgent) extractRegions(ctx context.Context, tc domain.TaskContext) *domain.Response {
	toolsUsed := []string{}
	masks := tc.Masks
	if masks == nil {
		m, err := a.runSegment(ctx, tc)
		switch {
		case err == nil:
			masks = m
			toolsUsed = append(toolsUsed, domain.ToolSegment)
		case errors.Is(err, context.Canceled):
			return domain.Fail(a.Name(), "Region extraction failed: "+err.Error())
		default:
			a.Logger().Warn("segmentation unavailable, detecting regions from ink", "error", err)
		}
	}

	args := domain.Args{"image": tc.Image}
	if masks != nil {
		args["masks"] = masks
	}
	res, err := a.UseTool(ctx, domain.ToolExtractRegions, args)
	if err != nil {
		return domain.Fail(a.Name(), "Region extraction failed: "+err.Error())
	}
	regions, err := resultAs[[]domain.Region](domain.ToolExtractRegions, res)
	if err != nil {
		return domain.Fail(a.Name(), "Region extraction failed: "+err.Error())
	}
	toolsUsed = append(toolsUsed, domain.ToolExtractRegions)

	minArea := a.minArea
	if tc.MinArea != nil {
		minArea = *tc.MinArea
	}
	kept := filterRegions(regions, minArea)
	a.Logger().Info("extracted regions", "kept", len(kept), "total", len(regions))

	return domain.OK(a.Name(),
		&domain.Data{Segmentation: &domain.SegmentationResult{
			NumRegions: len(kept),
			Regions:    kept,
			Masks:      masks,
		}},
		toolsUsed,
		map[string]any{
			"num_regions":    len(kept),
			"total_regions":  len(regions),
			"filtered_count": len(regions) - len(kept),
		},
	)
}

func (a *SegmentationAgent) fullSegmentation(ctx context.Context, tc domain.TaskContext) *domain.Response {
	seg := a.segment(ctx, tc)
	if seg.Failed() {
		return seg
	}

	next := tc.Clone()
	next.Masks = seg.Data.Segmentation.Masks
	ext := a.extractRegions(ctx, next)
	if ext.Failed() {
		return ext
	}

	metadata := maps.Clone(seg.Metadata)
	maps.Copy(metadata, ext.Metadata)
	return domain.OK(a.Name(), ext.Data,
		[]string{domain.ToolSegment, domain.ToolExtractRegions},
		metadata,
	)
}

func filterRegions(regions []domain.Region, minArea float64) []domain.Region {
	kept := make([]domain.Region, 0, len(regions))
	for _, r := range regions {
		if r.Area >= minArea {
			kept = append(kept, r)
		}
	}
	return kept
}

var _ domain.Agent = (*SegmentationAgent)(nil)
