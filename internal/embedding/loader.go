package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BuildFunc constructs an extractor. It is called by Load and Reload.
type BuildFunc func(ctx context.Context) (Extractor, error)

// Loader owns the active extractor and reports whether it is ready. Until the first
// successful Load, and after a failed one, Extract returns ErrExtractorUnavailable.
// Loader itself satisfies Extractor so callers do not need to check readiness first.
type Loader struct {
	name   string
	build  BuildFunc
	logger *zap.Logger

	mu       sync.RWMutex
	current  Extractor
	loadErr  error
	loadedAt time.Time
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger for load and reload events.
func WithLogger(l *zap.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

// NewLoader returns a Loader that is not ready until Load succeeds.
func NewLoader(name string, build BuildFunc, opts ...LoaderOption) *Loader {
	ld := &Loader{name: name, build: build, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(ld)
	}
	if ld.logger == nil {
		ld.logger = zap.NewNop()
	}
	return ld
}

// NewReadyLoader wraps an already constructed extractor.
func NewReadyLoader(name string, ext Extractor, opts ...LoaderOption) *Loader {
	ld := NewLoader(name, func(context.Context) (Extractor, error) { return ext, nil }, opts...)
	ld.current = ext
	ld.loadedAt = time.Now()
	return ld
}

// Name returns the extractor type name.
func (ld *Loader) Name() string {
	return ld.name
}

// Load builds the extractor. It is safe to call from a goroutine while requests are served.
func (ld *Loader) Load(ctx context.Context) error {
	start := time.Now()
	ext, err := ld.build(ctx)

	ld.mu.Lock()
	defer ld.mu.Unlock()
	if err != nil {
		ld.loadErr = err
		ld.logger.Error("feature extractor load failed", zap.String("extractor", ld.name), zap.Error(err))
		return fmt.Errorf("load %s extractor: %w", ld.name, err)
	}
	old := ld.current
	ld.current = ext
	ld.loadErr = nil
	ld.loadedAt = time.Now()
	ld.logger.Info("feature extractor loaded",
		zap.String("extractor", ld.name),
		zap.Int("dimensions", ext.Dimensions()),
		zap.Duration("took", time.Since(start)),
	)
	if old != nil && old != ext {
		_ = old.Close()
	}
	return nil
}

// Reload builds a new extractor and swaps it in. In-flight extractions finish on the
// old extractor before it is closed. On failure the old extractor stays active.
func (ld *Loader) Reload(ctx context.Context) error {
	ext, err := ld.build(ctx)
	if err != nil {
		ld.logger.Warn("feature extractor reload failed, keeping current model",
			zap.String("extractor", ld.name), zap.Error(err))
		return fmt.Errorf("reload %s extractor: %w", ld.name, err)
	}

	ld.mu.Lock()
	old := ld.current
	ld.current = ext
	ld.loadErr = nil
	ld.loadedAt = time.Now()
	ld.mu.Unlock()

	if old != nil && old != ext {
		if err := old.Close(); err != nil {
			ld.logger.Warn("closing previous extractor failed", zap.Error(err))
		}
	}
	ld.logger.Info("feature extractor reloaded",
		zap.String("extractor", ld.name), zap.Int("dimensions", ext.Dimensions()))
	return nil
}

// Ready reports whether an extractor is loaded.
func (ld *Loader) Ready() bool {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	return ld.current != nil
}

// Err returns the error of the last failed Load, if no extractor is active.
func (ld *Loader) Err() error {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	if ld.current != nil {
		return nil
	}
	return ld.loadErr
}

// LoadedAt returns when the active extractor was loaded, or the zero time.
func (ld *Loader) LoadedAt() time.Time {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	return ld.loadedAt
}

// Extract delegates to the active extractor.
func (ld *Loader) Extract(ctx context.Context, image []byte) ([]float32, error) {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	if ld.current == nil {
		if ld.loadErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrExtractorUnavailable, ld.loadErr)
		}
		return nil, fmt.Errorf("%w: model not loaded", ErrExtractorUnavailable)
	}
	return ld.current.Extract(ctx, image)
}

// Dimensions returns the active extractor's dimensions, or 0 when not ready.
func (ld *Loader) Dimensions() int {
	ld.mu.RLock()
	defer ld.mu.RUnlock()
	if ld.current == nil {
		return 0
	}
	return ld.current.Dimensions()
}

// Close closes the active extractor. The loader is not ready afterwards.
func (ld *Loader) Close() error {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	if ld.current == nil {
		return nil
	}
	err := ld.current.Close()
	ld.current = nil
	return err
}
