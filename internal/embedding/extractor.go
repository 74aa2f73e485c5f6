// Package embedding turns item photos into fixed-length feature vectors.
package embedding

import (
	"context"
	"errors"
)

var (
	// ErrExtractionFailed is returned when an image cannot be decoded or inference fails.
	ErrExtractionFailed = errors.New("feature extraction failed")
	// ErrExtractorUnavailable is returned when no model is loaded yet or loading failed.
	ErrExtractorUnavailable = errors.New("feature extractor unavailable")
)

// Extractor produces a feature vector for an image.
//
// Identical bytes under the same model state yield identical vectors. Failures are
// reported through the error, never as a zero vector.
type Extractor interface {
	Extract(ctx context.Context, image []byte) ([]float32, error)
	Dimensions() int
	Close() error
}

// IsUnavailable reports whether err means the extractor is not ready.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrExtractorUnavailable)
}

// IsExtractionFailure reports whether err means the image itself could not be processed.
func IsExtractionFailure(err error) bool {
	return errors.Is(err, ErrExtractionFailed)
}
