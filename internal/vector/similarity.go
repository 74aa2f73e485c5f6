// Package vector provides cosine similarity, validation, and a binary codec for image feature vectors.
package vector

import "math"

// Score returns the cosine similarity of a and b.
//
// Vectors of different length are compared on their common prefix. If either prefix has
// zero magnitude the score is 0. Accumulation is done in float64 and the result is kept
// within [-1, 1].
func Score(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var dot, sumA, sumB float64
	for i := 0; i < n; i++ {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		sumA += x * x
		sumB += y * y
	}
	if sumA == 0 || sumB == 0 {
		return 0
	}
	s := dot / (math.Sqrt(sumA) * math.Sqrt(sumB))
	return math.Max(-1, math.Min(1, s))
}

// InnerProduct returns the dot product over the common prefix of a and b.
func InnerProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return math.Sqrt(sum)
}

// IsZero reports whether every component of x is zero. An empty vector is zero.
func IsZero(x []float32) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}
