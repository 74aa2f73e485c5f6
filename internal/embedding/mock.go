package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// MockExtractor is a deterministic extractor for tests. It derives a vector from the
// SHA-256 of the image bytes so the same bytes always get the same vector. Specific
// images can be pinned to a vector with Set.
type MockExtractor struct {
	dimensions int

	mu     sync.RWMutex
	pinned map[string][]float32
	err    error
	calls  int
}

// NewMockExtractor returns a MockExtractor producing vectors of the given dimensions.
func NewMockExtractor(dimensions int) *MockExtractor {
	if dimensions <= 0 {
		dimensions = 64
	}
	return &MockExtractor{dimensions: dimensions, pinned: make(map[string][]float32)}
}

// Set pins the vector returned for image.
func (e *MockExtractor) Set(image []byte, v []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pinned[string(image)] = append([]float32(nil), v...)
}

// FailWith makes every subsequent Extract return err. A nil err clears the failure.
func (e *MockExtractor) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns how many times Extract was called.
func (e *MockExtractor) Calls() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.calls
}

// Extract returns the pinned vector for image, or one derived from its hash.
func (e *MockExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	failure := e.err
	pinned, ok := e.pinned[string(image)]
	e.mu.Unlock()

	if failure != nil {
		return nil, failure
	}
	if ok {
		return append([]float32(nil), pinned...), nil
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}

	sum := sha256.Sum256(image)
	seed := float64(binary.LittleEndian.Uint64(sum[:8])%1000003) + 1
	v := make([]float32, e.dimensions)
	var norm float64
	for i := range v {
		x := math.Sin(seed*float64(i+1))*0.1 + 0.01
		v[i] = float32(x)
		norm += x * x
	}
	if norm > 0 {
		inv := 1 / math.Sqrt(norm)
		for i := range v {
			v[i] = float32(float64(v[i]) * inv)
		}
	}
	return v, nil
}

// Dimensions returns the vector length.
func (e *MockExtractor) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *MockExtractor) Close() error {
	return nil
}
