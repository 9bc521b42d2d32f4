package tool

import (
	"context"
	"errors"
	"image"

	"github.com/chih3b/SanteConnect/internal/adapter/imaging"
	"github.com/chih3b/SanteConnect/internal/domain"
)

// Fallback detector settings used when no masks are supplied.
const (
	fallbackInkLevel = 200
	fallbackMinArea  = 100
)

type regionParams struct {
	Image image.Image   `mapstructure:"image"`
	Masks []domain.Mask `mapstructure:"masks"`
}

func (p *regionParams) Validate() error {
	if p.Image == nil {
		return errors.New("image is required")
	}
	return nil
}

// NewExtractRegionsTool returns the extract_regions tool. With masks it crops
// each mask's bounding box; without masks it falls back to finding dark
// connected blobs on the page.
func NewExtractRegionsTool() domain.Tool {
	return NewFunc(domain.ToolExtractRegions, "Extract image regions from segmentation masks",
		map[string]domain.ParamSpec{
			"image": {Type: "image", Description: "Input image", Required: true},
			"masks": {Type: "array", Description: "Segmentation masks"},
		},
		func(_ context.Context, p regionParams) (any, error) {
			if p.Masks == nil {
				return detectRegions(p.Image), nil
			}
			return regionsFromMasks(p.Image, p.Masks), nil
		})
}

func regionsFromMasks(img image.Image, masks []domain.Mask) []domain.Region {
	origin := img.Bounds().Min
	regions := make([]domain.Region, 0, len(masks))
	for i, m := range masks {
		var r image.Rectangle
		if len(m.Segmentation) > 0 {
			var ok bool
			if r, ok = imaging.MaskBounds(m.Segmentation); !ok {
				continue
			}
			r = r.Add(origin)
		} else {
			if m.BBox[2] <= 0 || m.BBox[3] <= 0 {
				continue
			}
			r = m.BBox.Rect().Add(origin)
		}
		r = r.Intersect(img.Bounds())
		if r.Empty() {
			continue
		}
		regions = append(regions, domain.Region{
			ID:         i,
			BBox:       domain.BBox{r.Min.X - origin.X, r.Min.Y - origin.Y, r.Dx(), r.Dy()},
			Area:       m.Area,
			Confidence: m.PredictedIoU,
			Image:      imaging.Crop(img, r),
		})
	}
	return regions
}

func detectRegions(img image.Image) []domain.Region {
	bin := imaging.Threshold(imaging.Grayscale(img), fallbackInkLevel, true)
	origin := img.Bounds().Min
	comps := imaging.Components(bin, fallbackMinArea)
	regions := make([]domain.Region, 0, len(comps))
	for i, c := range comps {
		regions = append(regions, domain.Region{
			ID:    i,
			BBox:  domain.BBox{c.Bounds.Min.X - origin.X, c.Bounds.Min.Y - origin.Y, c.Bounds.Dx(), c.Bounds.Dy()},
			Area:  float64(c.Area),
			Image: imaging.Crop(img, c.Bounds),
		})
	}
	return regions
}
