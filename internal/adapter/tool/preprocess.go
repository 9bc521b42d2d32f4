package tool

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/chih3b/SanteConnect/internal/adapter/imaging"
	"github.com/chih3b/SanteConnect/internal/domain"
)

type preprocessParams struct {
	Image      image.Image `mapstructure:"image"`
	Operations []string    `mapstructure:"operations"`
}

var preprocessOps = map[string]func(image.Image) image.Image{
	"grayscale": func(img image.Image) image.Image { return imaging.Grayscale(img) },
	"denoise":   func(img image.Image) image.Image { return imaging.Median(imaging.Grayscale(img)) },
	"threshold": func(img image.Image) image.Image {
		g := imaging.Grayscale(img)
		return imaging.Threshold(g, imaging.OtsuLevel(g), false)
	},
	"enhance_contrast": func(img image.Image) image.Image { return imaging.Equalize(imaging.Grayscale(img)) },
}

func (p *preprocessParams) Validate() error {
	if p.Image == nil {
		return errors.New("image is required")
	}
	for _, op := range p.Operations {
		if _, ok := preprocessOps[op]; !ok {
			return fmt.Errorf("unknown operation %q (want: grayscale, denoise, threshold, enhance_contrast)", op)
		}
	}
	return nil
}

// NewPreprocessTool returns the preprocess_image tool, which applies the
// requested operations in order.
func NewPreprocessTool() domain.Tool {
	return NewFunc(domain.ToolPreprocessImage, "Apply preprocessing operations to images",
		map[string]domain.ParamSpec{
			"image":      {Type: "image", Description: "Input image", Required: true},
			"operations": {Type: "array", Description: "List of preprocessing operations"},
		},
		func(_ context.Context, p preprocessParams) (any, error) {
			out := p.Image
			for _, op := range p.Operations {
				out = preprocessOps[op](out)
			}
			return out, nil
		})
}
