package imaging

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// page returns a white w x h image with black rectangles drawn at rs.
func page(w, h int, rs ...image.Rectangle) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	for _, r := range rs {
		for y := r.Min.Y; y < r.Max.Y; y++ {
			for x := r.Min.X; x < r.Max.X; x++ {
				g.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return g
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := page(8, 4, image.Rect(1, 1, 3, 3))
	data, err := EncodePNG(src)
	require.NoError(t, err)

	img, err := Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), img.Bounds())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte("not an image")))
	assert.Error(t, err)
}

func TestCropClipsAndRebases(t *testing.T) {
	src := page(10, 10, image.Rect(8, 8, 10, 10))
	out := Crop(src, image.Rect(7, 7, 20, 20))
	assert.Equal(t, image.Rect(0, 0, 3, 3), out.Bounds())
	r, _, _, _ := out.At(2, 2).RGBA()
	assert.Zero(t, r)
}

func TestOtsuSeparatesTwoLevels(t *testing.T) {
	g := page(20, 20, image.Rect(0, 0, 10, 20))
	level := OtsuLevel(g)
	assert.Less(t, level, uint8(255))

	bin := Threshold(g, level, false)
	assert.Equal(t, uint8(0), bin.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), bin.GrayAt(15, 0).Y)
}

func TestThresholdInvert(t *testing.T) {
	g := page(4, 1, image.Rect(0, 0, 1, 1))
	bin := Threshold(g, 200, true)
	assert.Equal(t, uint8(255), bin.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(0), bin.GrayAt(3, 0).Y)
}

func TestEqualizeStretchesRange(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 2, 1))
	g.SetGray(0, 0, color.Gray{Y: 100})
	g.SetGray(1, 0, color.Gray{Y: 110})

	out := Equalize(g)
	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(1, 0).Y)
}

func TestMedianRemovesSpeckle(t *testing.T) {
	g := page(5, 5, image.Rect(2, 2, 3, 3))
	out := Median(g)
	assert.Equal(t, uint8(255), out.GrayAt(2, 2).Y)
}

func TestComponents(t *testing.T) {
	g := page(100, 60,
		image.Rect(5, 5, 25, 15),   // 200 px
		image.Rect(40, 30, 45, 35), // 25 px, below min area
		image.Rect(60, 10, 90, 50), // 1200 px
	)
	bin := Threshold(g, 200, true)

	comps := Components(bin, 100)
	require.Len(t, comps, 2)
	assert.Equal(t, image.Rect(5, 5, 25, 15), comps[0].Bounds)
	assert.Equal(t, 200, comps[0].Area)
	assert.Equal(t, image.Rect(60, 10, 90, 50), comps[1].Bounds)
}

func TestComponentsDiagonalConnectivity(t *testing.T) {
	g := image.NewGray(image.Rect(0, 0, 3, 3))
	g.SetGray(0, 0, color.Gray{Y: 255})
	g.SetGray(1, 1, color.Gray{Y: 255})
	g.SetGray(2, 2, color.Gray{Y: 255})

	comps := Components(g, 1)
	require.Len(t, comps, 1)
	assert.Equal(t, 3, comps[0].Area)
}

func TestMaskBounds(t *testing.T) {
	_, ok := MaskBounds([][]bool{{false, false}})
	assert.False(t, ok)

	r, ok := MaskBounds([][]bool{
		{false, false, false},
		{false, true, false},
		{false, true, true},
	})
	require.True(t, ok)
	assert.Equal(t, image.Rect(1, 1, 3, 3), r)
}
