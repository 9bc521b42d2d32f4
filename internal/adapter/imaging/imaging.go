// Package imaging holds the pixel operations behind the local image tools:
// decoding, cropping, preprocessing and a connected-component region finder.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg" // register decoder
	"image/png"
	"io"
	"sort"
)

// Decode reads a PNG or JPEG image.
func Decode(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes img as PNG bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Crop copies the part of img inside r into a new image anchored at (0,0).
// r is clipped to the image bounds.
func Crop(img image.Image, r image.Rectangle) image.Image {
	r = r.Intersect(img.Bounds())
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min, draw.Src)
	return out
}

// Grayscale converts img to 8-bit gray.
func Grayscale(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return out
}

func histogram(g *image.Gray) [256]int {
	var h [256]int
	b := g.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := g.Pix[g.PixOffset(b.Min.X, y):g.PixOffset(b.Max.X, y)]
		for _, v := range row {
			h[v]++
		}
	}
	return h
}

// OtsuLevel returns the threshold that maximises between-class variance.
func OtsuLevel(g *image.Gray) uint8 {
	h := histogram(g)
	total := g.Bounds().Dx() * g.Bounds().Dy()
	if total == 0 {
		return 0
	}

	var sum float64
	for i, n := range h {
		sum += float64(i * n)
	}

	var sumB, best float64
	var wB int
	var level uint8
	for t := 0; t < 256; t++ {
		wB += h[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * h[t])
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = uint8(t)
		}
	}
	return level
}

// Threshold binarises g: pixels above level become 255. With invert set,
// pixels at or below level become 255 instead.
func Threshold(g *image.Gray, level uint8, invert bool) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			on := g.GrayAt(x, y).Y > level
			if on != invert {
				out.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return out
}

// Equalize spreads the gray histogram over the full range.
func Equalize(g *image.Gray) *image.Gray {
	h := histogram(g)
	total := g.Bounds().Dx() * g.Bounds().Dy()
	b := g.Bounds()
	out := image.NewGray(b)
	if total == 0 {
		return out
	}

	var lut [256]uint8
	cdf, cdfMin := 0, 0
	for i, n := range h {
		cdf += n
		if cdfMin == 0 && cdf > 0 {
			cdfMin = cdf
		}
		if total == cdfMin {
			lut[i] = uint8(i)
			continue
		}
		lut[i] = uint8(float64(cdf-cdfMin) / float64(total-cdfMin) * 255)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x, y, color.Gray{Y: lut[g.GrayAt(x, y).Y]})
		}
	}
	return out
}

// Median applies a 3x3 median filter. Border pixels use the clipped window.
func Median(g *image.Gray) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(b)
	window := make([]uint8, 0, 9)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			window = window[:0]
			for dy := -1; dy <= 1; dy++ {
				for dx := -1; dx <= 1; dx++ {
					p := image.Pt(x+dx, y+dy)
					if p.In(b) {
						window = append(window, g.GrayAt(p.X, p.Y).Y)
					}
				}
			}
			sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
			out.SetGray(x, y, color.Gray{Y: window[len(window)/2]})
		}
	}
	return out
}

// Component is one 8-connected foreground blob.
type Component struct {
	Bounds image.Rectangle
	Area   int
}

// Components finds 8-connected blobs of non-zero pixels in a binary image,
// keeping those with at least minArea pixels. Results are in scan order.
func Components(bin *image.Gray, minArea int) []Component {
	b := bin.Bounds()
	w, h := b.Dx(), b.Dy()
	seen := make([]bool, w*h)
	var out []Component
	stack := make([]image.Point, 0, 64)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if seen[idx] || bin.GrayAt(b.Min.X+x, b.Min.Y+y).Y == 0 {
				continue
			}
			seen[idx] = true
			stack = append(stack[:0], image.Pt(x, y))
			rect := image.Rect(x, y, x+1, y+1)
			area := 0
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				area++
				rect = rect.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				for dy := -1; dy <= 1; dy++ {
					for dx := -1; dx <= 1; dx++ {
						nx, ny := p.X+dx, p.Y+dy
						if nx < 0 || ny < 0 || nx >= w || ny >= h {
							continue
						}
						n := ny*w + nx
						if seen[n] || bin.GrayAt(b.Min.X+nx, b.Min.Y+ny).Y == 0 {
							continue
						}
						seen[n] = true
						stack = append(stack, image.Pt(nx, ny))
					}
				}
			}
			if area >= minArea {
				out = append(out, Component{Bounds: rect.Add(b.Min), Area: area})
			}
		}
	}
	return out
}

// MaskBounds returns the bounding rectangle of the set cells of a row-major
// boolean mask. ok is false when no cell is set.
func MaskBounds(mask [][]bool) (r image.Rectangle, ok bool) {
	for y, row := range mask {
		for x, on := range row {
			if !on {
				continue
			}
			cell := image.Rect(x, y, x+1, y+1)
			if !ok {
				r, ok = cell, true
				continue
			}
			r = r.Union(cell)
		}
	}
	return r, ok
}
