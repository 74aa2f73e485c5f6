package embedding

import (
	"context"
	"io"
)

// CachedExtractor wraps an Extractor with a FeatureCache. Only successful extractions are cached.
type CachedExtractor struct {
	inner Extractor
	cache FeatureCache
}

// NewCachedExtractor returns inner wrapped with cache.
func NewCachedExtractor(inner Extractor, cache FeatureCache) *CachedExtractor {
	return &CachedExtractor{inner: inner, cache: cache}
}

// Extract returns the cached vector for image or extracts and caches it.
func (e *CachedExtractor) Extract(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return e.inner.Extract(ctx, image)
	}
	key := CacheKey(image)
	if v, ok := e.cache.Get(ctx, key); ok && len(v) == e.inner.Dimensions() {
		return v, nil
	}
	v, err := e.inner.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	e.cache.Set(ctx, key, v)
	return v, nil
}

// Dimensions returns the wrapped extractor's dimensions.
func (e *CachedExtractor) Dimensions() int {
	return e.inner.Dimensions()
}

// Close closes the wrapped extractor and the cache when it holds a connection.
func (e *CachedExtractor) Close() error {
	err := e.inner.Close()
	if c, ok := e.cache.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
