package tool

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chih3b/SanteConnect/internal/domain"
)

// page returns a white image with one black rectangle drawn at ink.
func page(w, h int, ink image.Rectangle) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if image.Pt(x, y).In(ink) {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.Set(x, y, c)
		}
	}
	return img
}

func TestSegmentTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var req segmentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, err := base64.StdEncoding.DecodeString(req.Image)
		assert.NoError(t, err)

		_, _ = io.WriteString(w, `{"masks":[{"bbox":[1,2,3,4],"area":12,"predicted_iou":0.9}]}`)
	}))
	defer srv.Close()

	tool := NewSegmentTool(SegmentConfig{Endpoint: srv.URL, APIKey: "tok"})
	res, err := tool.Invoke(context.Background(), domain.Args{"image": page(10, 10, image.Rect(0, 0, 0, 0))})
	require.NoError(t, err)

	masks := res.([]domain.Mask)
	require.Len(t, masks, 1)
	assert.Equal(t, domain.BBox{1, 2, 3, 4}, masks[0].BBox)
	assert.InDelta(t, 0.9, masks[0].PredictedIoU, 1e-9)
}

func TestSegmentTool_NotConfigured(t *testing.T) {
	_, err := NewSegmentTool(SegmentConfig{}).Invoke(context.Background(),
		domain.Args{"image": page(4, 4, image.Rectangle{})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestSegmentTool_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gpu busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewSegmentTool(SegmentConfig{Endpoint: srv.URL}).Invoke(context.Background(),
		domain.Args{"image": page(4, 4, image.Rectangle{})})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestExtractRegions_Fallback(t *testing.T) {
	img := page(60, 40, image.Rect(10, 5, 30, 25))
	res, err := NewExtractRegionsTool().Invoke(context.Background(), domain.Args{"image": img})
	require.NoError(t, err)

	regions := res.([]domain.Region)
	require.Len(t, regions, 1)
	assert.Equal(t, domain.BBox{10, 5, 20, 20}, regions[0].BBox)
	assert.InDelta(t, 400, regions[0].Area, 1e-9)
	assert.Equal(t, 20, regions[0].Image.Bounds().Dx())
}

func TestExtractRegions_FallbackDropsSpecks(t *testing.T) {
	img := page(60, 40, image.Rect(10, 5, 15, 10)) // 25 px
	res, err := NewExtractRegionsTool().Invoke(context.Background(), domain.Args{"image": img})
	require.NoError(t, err)
	assert.Empty(t, res.([]domain.Region))
}

func TestExtractRegions_FromMasks(t *testing.T) {
	img := page(20, 20, image.Rectangle{})
	bitmap := make([][]bool, 20)
	for y := range bitmap {
		bitmap[y] = make([]bool, 20)
	}
	for y := 4; y < 8; y++ {
		for x := 2; x < 12; x++ {
			bitmap[y][x] = true
		}
	}
	masks := []domain.Mask{
		{BBox: domain.BBox{0, 0, 5, 5}, Area: 25, PredictedIoU: 0.7},
		{Segmentation: bitmap, Area: 40, PredictedIoU: 0.95},
		{BBox: domain.BBox{0, 0, 0, 0}},
	}

	res, err := NewExtractRegionsTool().Invoke(context.Background(), domain.Args{"image": img, "masks": masks})
	require.NoError(t, err)

	regions := res.([]domain.Region)
	require.Len(t, regions, 2)
	assert.Equal(t, 0, regions[0].ID)
	assert.Equal(t, domain.BBox{0, 0, 5, 5}, regions[0].BBox)
	assert.Equal(t, 1, regions[1].ID)
	assert.Equal(t, domain.BBox{2, 4, 10, 4}, regions[1].BBox)
	assert.InDelta(t, 0.95, regions[1].Confidence, 1e-9)
}

func TestExtractRegions_EmptyMasks(t *testing.T) {
	img := page(60, 40, image.Rect(10, 5, 30, 25))
	res, err := NewExtractRegionsTool().Invoke(context.Background(),
		domain.Args{"image": img, "masks": []domain.Mask{}})
	require.NoError(t, err)
	assert.Empty(t, res.([]domain.Region))
}

func TestPreprocessTool(t *testing.T) {
	img := page(8, 8, image.Rect(0, 0, 4, 8))
	res, err := NewPreprocessTool().Invoke(context.Background(), domain.Args{
		"image":      img,
		"operations": []string{"grayscale", "denoise", "enhance_contrast", "threshold"},
	})
	require.NoError(t, err)

	g, ok := res.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, uint8(0), g.GrayAt(1, 4).Y)
	assert.Equal(t, uint8(255), g.GrayAt(6, 4).Y)
}

func TestPreprocessTool_UnknownOperation(t *testing.T) {
	_, err := NewPreprocessTool().Invoke(context.Background(), domain.Args{
		"image":      page(2, 2, image.Rectangle{}),
		"operations": []string{"sharpen"},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Contains(t, err.Error(), "sharpen")
}

func TestAzureReadTool_PollsUntilSucceeded(t *testing.T) {
	var polls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("Ocp-Apim-Subscription-Key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/vision/v3.2/read/analyze":
			assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
			w.Header().Set("Operation-Location", srv.URL+"/ops/1")
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && r.URL.Path == "/ops/1":
			if polls.Add(1) < 2 {
				_, _ = io.WriteString(w, `{"status":"running"}`)
				return
			}
			_, _ = io.WriteString(w, `{"status":"succeeded","analyzeResult":{"readResults":[
				{"lines":[{"text":"Tab Augmentin 500mg"},{"text":"1 bid"}]},
				{"lines":[{"text":"Dr. House"}]}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tool := NewAzureReadTool(AzureReadConfig{Endpoint: srv.URL + "/", APIKey: "key", PollInterval: time.Millisecond})
	res, err := tool.Invoke(context.Background(), domain.Args{"image": page(4, 4, image.Rectangle{})})
	require.NoError(t, err)

	read := res.(*domain.ReadResult)
	assert.Equal(t, domain.ReadSucceeded, read.Status)
	assert.Equal(t, []string{"Tab Augmentin 500mg", "1 bid", "Dr. House"}, read.Lines)
	assert.Equal(t, int32(2), polls.Load())
}

func TestAzureReadTool_GivesUpAfterAttempts(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.Header().Set("Operation-Location", srv.URL+"/ops/2")
			w.WriteHeader(http.StatusAccepted)
			return
		}
		_, _ = io.WriteString(w, `{"status":"running"}`)
	}))
	defer srv.Close()

	tool := NewAzureReadTool(AzureReadConfig{Endpoint: srv.URL, APIKey: "key", PollAttempts: 3, PollInterval: time.Millisecond})
	res, err := tool.Invoke(context.Background(), domain.Args{"image": page(4, 4, image.Rectangle{})})
	require.NoError(t, err)
	assert.Equal(t, "running", res.(*domain.ReadResult).Status)
}

func TestAzureReadTool_MissingOperationLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	tool := NewAzureReadTool(AzureReadConfig{Endpoint: srv.URL, APIKey: "key"})
	_, err := tool.Invoke(context.Background(), domain.Args{"image": page(4, 4, image.Rectangle{})})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProviderError)
}

func TestHandwritingTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		_, _ = io.WriteString(w, `[{"generated_text":"amoxicillin 250 mg"}]`)
	}))
	defer srv.Close()

	res, err := NewHandwritingTool(HandwritingConfig{Endpoint: srv.URL}).Invoke(context.Background(),
		domain.Args{"image": page(4, 4, image.Rectangle{})})
	require.NoError(t, err)
	assert.Equal(t, "amoxicillin 250 mg", res)
}

func TestParseGeneratedText(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`[{"generated_text":"a"}]`, "a"},
		{`{"generated_text":"b"}`, "b"},
		{`[]`, ""},
	}
	for _, tt := range tests {
		got, err := parseGeneratedText([]byte(tt.body))
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := parseGeneratedText([]byte(`"nope"`))
	assert.Error(t, err)
}
