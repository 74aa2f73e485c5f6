package embedding

import (
	"context"
	"math"

	"github.com/umt-belongings/hub/pkg/utils"
)

const (
	// DefaultHistogramBins is the number of colour bins per channel.
	DefaultHistogramBins = 8

	gridCells         = 3
	orientationBins   = 8
	histogramFixedLen = gridCells*gridCells*3 + orientationBins
)

// HistogramExtractor computes a hand-crafted appearance descriptor in pure Go:
// per-channel colour histograms, the mean colour of a 3x3 grid, and a
// gradient-orientation histogram. The result is L2-normalized.
type HistogramExtractor struct {
	bins      int
	inputSize int
	maxPixels int
}

// NewHistogramExtractor returns a HistogramExtractor. Non-positive arguments use the defaults.
func NewHistogramExtractor(bins, inputSize int) *HistogramExtractor {
	if bins <= 0 {
		bins = DefaultHistogramBins
	}
	if inputSize <= 0 {
		inputSize = DefaultInputSize
	}
	return &HistogramExtractor{bins: bins, inputSize: inputSize}
}

// SetMaxPixels sets the largest image, in pixels, Extract will decode.
func (e *HistogramExtractor) SetMaxPixels(n int) {
	e.maxPixels = n
}

// Extract returns the descriptor for image.
func (e *HistogramExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	px, err := Preprocess(image, e.inputSize, e.maxPixels)
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, e.Dimensions())
	out = append(out, e.colourHistogram(px)...)
	out = append(out, gridMeans(px)...)
	out = append(out, orientationHistogram(px)...)

	utils.NormalizeL2(out)
	return out, nil
}

// Dimensions returns 3*bins + 35.
func (e *HistogramExtractor) Dimensions() int {
	return 3*e.bins + histogramFixedLen
}

// Close is a no-op.
func (e *HistogramExtractor) Close() error {
	return nil
}

func (e *HistogramExtractor) colourHistogram(px *Pixels) []float32 {
	hist := make([]float32, 3*e.bins)
	total := float32(px.Size * px.Size)
	for c := 0; c < 3; c++ {
		for _, v := range px.Channel(c) {
			b := int(v * float32(e.bins))
			if b >= e.bins {
				b = e.bins - 1
			}
			hist[c*e.bins+b]++
		}
	}
	for i := range hist {
		hist[i] /= total
	}
	return hist
}

func gridMeans(px *Pixels) []float32 {
	means := make([]float32, gridCells*gridCells*3)
	counts := make([]int, gridCells*gridCells)
	for y := 0; y < px.Size; y++ {
		gy := y * gridCells / px.Size
		for x := 0; x < px.Size; x++ {
			cell := gy*gridCells + x*gridCells/px.Size
			counts[cell]++
			i := y*px.Size + x
			for c := 0; c < 3; c++ {
				means[cell*3+c] += px.Channel(c)[i]
			}
		}
	}
	for cell, n := range counts {
		if n == 0 {
			continue
		}
		for c := 0; c < 3; c++ {
			means[cell*3+c] /= float32(n)
		}
	}
	return means
}

func orientationHistogram(px *Pixels) []float32 {
	size := px.Size
	r, g, b := px.Channel(0), px.Channel(1), px.Channel(2)
	gray := make([]float64, size*size)
	for i := range gray {
		gray[i] = 0.299*float64(r[i]) + 0.587*float64(g[i]) + 0.114*float64(b[i])
	}

	hist := make([]float64, orientationBins)
	var total float64
	for y := 1; y < size-1; y++ {
		for x := 1; x < size-1; x++ {
			i := y*size + x
			gx := gray[i+1] - gray[i-1]
			gy := gray[i+size] - gray[i-size]
			mag := math.Hypot(gx, gy)
			if mag == 0 {
				continue
			}
			// unsigned orientation in [0, pi)
			angle := math.Atan2(gy, gx)
			if angle < 0 {
				angle += math.Pi
			}
			bin := int(angle / math.Pi * orientationBins)
			if bin >= orientationBins {
				bin = orientationBins - 1
			}
			hist[bin] += mag
			total += mag
		}
	}

	out := make([]float32, orientationBins)
	if total == 0 {
		return out
	}
	for i, v := range hist {
		out[i] = float32(v / total)
	}
	return out
}
