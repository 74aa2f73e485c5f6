package utils

import (
	"math"
	"testing"
)

func TestNormalizeL2(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		want     []float32
		wantNorm float64
	}{
		{"3-4-5 triangle", []float32{3, 4}, []float32{0.6, 0.8}, 5},
		{"already unit", []float32{0, 1, 0}, []float32{0, 1, 0}, 1},
		{"negative components", []float32{-2, 0, 0}, []float32{-1, 0, 0}, 2},
		{"zero vector unchanged", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"empty", []float32{}, []float32{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm := NormalizeL2(tt.in)
			if math.Abs(norm-tt.wantNorm) > 1e-9 {
				t.Errorf("norm = %v, want %v", norm, tt.wantNorm)
			}
			for i := range tt.want {
				if math.Abs(float64(tt.in[i]-tt.want[i])) > 1e-6 {
					t.Errorf("NormalizeL2 = %v, want %v", tt.in, tt.want)
					break
				}
			}
		})
	}
}

func TestNormalizeL2_LargeVectorHasUnitLength(t *testing.T) {
	x := make([]float32, 1024)
	for i := range x {
		x[i] = float32(i%7) + 0.5
	}
	NormalizeL2(x)
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	if math.Abs(math.Sqrt(sum)-1) > 1e-5 {
		t.Errorf("length after normalize = %v", math.Sqrt(sum))
	}
}
