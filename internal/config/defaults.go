package config

import "time"

// DefaultThreshold is the similarity threshold used when none is configured.
const DefaultThreshold = 0.7

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 5 << 20
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/belongings/data/db/belongings.db"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/belongings/data/indices/bleve"
	}
	if cfg.Storage.UploadsDir == "" {
		cfg.Storage.UploadsDir = "/usr/local/var/belongings/data/uploads"
	}
	if cfg.Embedding.Type == "" {
		cfg.Embedding.Type = "histogram"
	}
	if cfg.Embedding.InputSize == 0 {
		cfg.Embedding.InputSize = 224
	}
	if cfg.Embedding.MaxPixels == 0 {
		cfg.Embedding.MaxPixels = 40_000_000
	}
	if cfg.Embedding.HistogramBins == 0 {
		cfg.Embedding.HistogramBins = 8
	}
	if cfg.Embedding.Type == "onnx" && cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 1024
	}
	if cfg.Embedding.Type == "mock" && cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 64
	}
	if cfg.Embedding.CacheBackend == "" {
		cfg.Embedding.CacheBackend = "memory"
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 1000
	}
	if cfg.Embedding.RedisAddr == "" {
		cfg.Embedding.RedisAddr = "localhost:6379"
	}
	if cfg.Embedding.CacheTTL == 0 {
		cfg.Embedding.CacheTTL = 24 * time.Hour
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 50
	}
	if cfg.Search.AutoMatchLimit == 0 {
		cfg.Search.AutoMatchLimit = 3
	}
	if cfg.Search.AutoMatchTypes == nil {
		cfg.Search.AutoMatchTypes = []string{"LOST"}
	}
	if cfg.Search.KeywordTitleBoost == 0 {
		cfg.Search.KeywordTitleBoost = 2.0
	}
}
