package embedding

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"go.uber.org/zap"
)

// New builds the extractor described by opts, wrapped in its feature cache. Every call
// starts with an empty in-memory cache; Redis keys are namespaced by model so vectors
// from a replaced model are never served.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Extractor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		ext       Extractor
		namespace string
	)
	switch opts.Type {
	case TypeHistogram, "":
		h := NewHistogramExtractor(opts.HistogramBins, opts.InputSize)
		h.SetMaxPixels(opts.MaxPixels)
		ext = h
		namespace = "histogram-" + strconv.Itoa(h.Dimensions()) + "-" + strconv.Itoa(h.inputSize)
	case TypeONNX:
		onnxCfg := opts.ONNX
		if onnxCfg.InputSize == 0 {
			onnxCfg.InputSize = opts.InputSize
		}
		if onnxCfg.MaxPixels == 0 {
			onnxCfg.MaxPixels = opts.MaxPixels
		}
		o, err := NewONNXExtractor(onnxCfg)
		if err != nil {
			return nil, err
		}
		ext = o
		namespace = "onnx-" + strconv.Itoa(o.Dimensions())
		if info, err := os.Stat(onnxCfg.ModelPath); err == nil {
			namespace += "-" + strconv.FormatInt(info.ModTime().Unix(), 10)
		}
	case TypeMock:
		ext = NewMockExtractor(opts.Dimensions)
		namespace = "mock"
	default:
		return nil, fmt.Errorf("unknown extractor type %q (want %s, %s or %s)", opts.Type, TypeHistogram, TypeONNX, TypeMock)
	}

	switch opts.CacheBackend {
	case CacheNone:
		return ext, nil
	case CacheRedis:
		rc, err := NewRedisCache(ctx, opts.RedisAddr, opts.RedisDB, opts.CacheTTL, namespace, logger)
		if err == nil {
			return NewCachedExtractor(ext, rc), nil
		}
		logger.Warn("redis feature cache unavailable, using memory cache", zap.Error(err))
	case CacheMemory, "":
	default:
		_ = ext.Close()
		return nil, fmt.Errorf("unknown cache backend %q", opts.CacheBackend)
	}
	return NewCachedExtractor(ext, NewMemoryCache(opts.CacheSize)), nil
}

// NewLoaderFromOptions returns a Loader whose build step is New(opts).
func NewLoaderFromOptions(opts Options, logger *zap.Logger) *Loader {
	name := opts.Type
	if name == "" {
		name = TypeHistogram
	}
	return NewLoader(name, func(ctx context.Context) (Extractor, error) {
		return New(ctx, opts, logger)
	}, WithLogger(logger))
}
