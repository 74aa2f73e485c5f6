package embedding

import (
	"context"
	"errors"
	"image/color"
	"math"
	"runtime"
	"strings"
	"testing"

	"github.com/umt-belongings/hub/internal/vector"
)

func TestHistogramExtractor_Dimensions(t *testing.T) {
	if d := NewHistogramExtractor(0, 0).Dimensions(); d != 59 {
		t.Errorf("default dimensions = %d, want 59", d)
	}
	if d := NewHistogramExtractor(4, 32).Dimensions(); d != 47 {
		t.Errorf("dimensions with 4 bins = %d, want 47", d)
	}
}

func TestHistogramExtractor_Deterministic(t *testing.T) {
	e := NewHistogramExtractor(8, 32)
	img := stripesPNG(t, 40, 30, 4, color.RGBA{200, 10, 10, 255}, color.RGBA{10, 10, 200, 255})
	a, err := e.Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	b, err := e.Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(a) != e.Dimensions() {
		t.Fatalf("len = %d, want %d", len(a), e.Dimensions())
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("component %d differs: %v vs %v", i, a[i], b[i])
		}
	}
	if n := vector.L2Norm(a); math.Abs(n-1) > 1e-5 {
		t.Errorf("norm = %v, want 1", n)
	}
}

func TestHistogramExtractor_SimilarImagesScoreHigher(t *testing.T) {
	e := NewHistogramExtractor(8, 32)
	ctx := context.Background()
	red, _ := e.Extract(ctx, solidPNG(t, 30, 30, color.RGBA{220, 20, 20, 255}))
	darkerRed, _ := e.Extract(ctx, solidPNG(t, 50, 40, color.RGBA{210, 25, 25, 255}))
	blue, _ := e.Extract(ctx, solidPNG(t, 30, 30, color.RGBA{20, 20, 220, 255}))

	same := vector.Score(red, darkerRed)
	diff := vector.Score(red, blue)
	if same <= diff {
		t.Errorf("similar colours scored %v, different colours %v", same, diff)
	}
	if same < 0.9 {
		t.Errorf("near-identical images scored %v", same)
	}
}

func TestHistogramExtractor_UniformImageIsNotZero(t *testing.T) {
	e := NewHistogramExtractor(8, 16)
	v, err := e.Extract(context.Background(), solidPNG(t, 8, 8, color.Black))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if vector.IsZero(v) {
		t.Error("uniform image produced a zero vector")
	}
}

func TestHistogramExtractor_Failures(t *testing.T) {
	e := NewHistogramExtractor(8, 16)
	tests := []struct {
		name  string
		image []byte
	}{
		{"empty", nil},
		{"not an image", []byte("definitely not a jpeg")},
		{"truncated png", solidPNG(t, 10, 10, color.White)[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.Extract(context.Background(), tt.image)
			if !errors.Is(err, ErrExtractionFailed) {
				t.Fatalf("err = %v, want ErrExtractionFailed", err)
			}
			if v != nil {
				t.Errorf("failure returned a vector: %v", v)
			}
		})
	}
}

func TestHistogramExtractor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHistogramExtractor(8, 16).Extract(ctx, solidPNG(t, 4, 4, color.White))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPreprocess(t *testing.T) {
	px, err := Preprocess(solidPNG(t, 7, 3, color.RGBA{255, 0, 0, 255}), 4, 0)
	if err != nil {
		t.Fatalf("Preprocess: %v", err)
	}
	if px.Size != 4 || len(px.Data) != 3*16 {
		t.Fatalf("size %d, len %d", px.Size, len(px.Data))
	}
	for i, v := range px.Channel(0) {
		if math.Abs(float64(v)-1) > 0.01 {
			t.Fatalf("red[%d] = %v, want 1", i, v)
		}
	}
	for i, v := range px.Channel(2) {
		if v > 0.01 {
			t.Fatalf("blue[%d] = %v, want 0", i, v)
		}
	}
}

func TestHistogramExtractor_RejectsOversizedHeaderBeforeDecoding(t *testing.T) {
	data := pngHeaderOnly(12000, 12000)
	e := NewHistogramExtractor(8, 16)

	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	_, err := e.Extract(context.Background(), data)
	runtime.ReadMemStats(&after)

	if !errors.Is(err, ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
	if !strings.Contains(err.Error(), "12000x12000") {
		t.Errorf("err = %v, want the declared size in the message", err)
	}
	if grew := after.TotalAlloc - before.TotalAlloc; grew > 16<<20 {
		t.Errorf("allocated %d bytes rejecting a header-only image", grew)
	}
}

func TestPreprocess_MaxPixels(t *testing.T) {
	img := solidPNG(t, 60, 50, color.White)
	tests := []struct {
		name      string
		maxPixels int
		wantErr   bool
	}{
		{"default cap", 0, false},
		{"exactly at cap", 3000, false},
		{"one below size", 2999, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Preprocess(img, 8, tt.maxPixels)
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrExtractionFailed) {
				t.Errorf("err = %v, want ErrExtractionFailed", err)
			}
		})
	}
}

func TestHistogramExtractor_SetMaxPixels(t *testing.T) {
	e := NewHistogramExtractor(8, 16)
	e.SetMaxPixels(100)
	_, err := e.Extract(context.Background(), solidPNG(t, 20, 20, color.White))
	if !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("err = %v, want ErrExtractionFailed for a 400 pixel image", err)
	}
}
