package embedding

import "time"

// Extractor types accepted by New.
const (
	TypeHistogram = "histogram"
	TypeONNX      = "onnx"
	TypeMock      = "mock"
)

// Cache backends accepted by New.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// ONNXConfig describes an ONNX image model.
type ONNXConfig struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	InputSize   int
	Dimensions  int
	MaxPixels   int
}

func (c ONNXConfig) withDefaults() ONNXConfig {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.OutputName == "" {
		c.OutputName = "output"
	}
	if c.InputSize <= 0 {
		c.InputSize = DefaultInputSize
	}
	return c
}

// Options selects and configures an extractor and its cache.
type Options struct {
	Type          string
	ONNX          ONNXConfig
	HistogramBins int
	InputSize     int
	// Dimensions is used by the mock extractor.
	Dimensions int
	// MaxPixels bounds the decoded size of an input image. Zero means DefaultMaxPixels.
	MaxPixels int

	CacheBackend string
	CacheSize    int
	RedisAddr    string
	RedisDB      int
	CacheTTL     time.Duration
}
