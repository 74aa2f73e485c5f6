// Package config provides configuration loading and structs for the Belongings Hub server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// JWTSecret verifies bearer tokens (HS256). BELONGINGS_JWT_SECRET overrides it.
	JWTSecret      string        `yaml:"jwt_secret"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig holds paths for the database, the text index and uploaded images.
type StorageConfig struct {
	DatabasePath   string `yaml:"database_path"`
	BleveIndexPath string `yaml:"bleve_index_path"`
	UploadsDir     string `yaml:"uploads_dir"`
}

// EmbeddingConfig holds feature extractor settings.
type EmbeddingConfig struct {
	// Type is histogram, onnx or mock.
	Type          string `yaml:"type"`
	ModelPath     string `yaml:"model_path"`
	LibraryPath   string `yaml:"library_path"`
	InputName     string `yaml:"input_name"`
	OutputName    string `yaml:"output_name"`
	Dimensions    int    `yaml:"dimensions"`
	InputSize     int    `yaml:"input_size"`
	HistogramBins int    `yaml:"histogram_bins"`
	// MaxPixels rejects images whose declared width*height is larger, before decoding.
	MaxPixels     int    `yaml:"max_pixels"`
	// CacheBackend is memory, redis or none.
	CacheBackend string        `yaml:"cache_backend"`
	CacheSize    int           `yaml:"cache_size"`
	RedisAddr    string        `yaml:"redis_addr"`
	RedisDB      int           `yaml:"redis_db"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	// WatchModel reloads the extractor when the model file changes.
	WatchModel bool `yaml:"watch_model"`
}

// SearchConfig holds similarity and listing search settings.
type SearchConfig struct {
	DefaultThreshold   *float64 `yaml:"default_threshold"`
	DefaultLimit       int      `yaml:"default_limit"`
	MaxLimit           int      `yaml:"max_limit"`
	AutoMatchThreshold *float64 `yaml:"auto_match_threshold"`
	AutoMatchLimit     int      `yaml:"auto_match_limit"`
	// AutoMatchTypes lists the item types whose new posts are matched automatically.
	AutoMatchTypes    []string `yaml:"auto_match_types"`
	KeywordTitleBoost float64  `yaml:"keyword_title_boost"`
	KeywordFuzzy      bool     `yaml:"keyword_fuzzy"`
}

// ThresholdOrDefault returns the on-demand threshold; defaults to 0.7 when unset.
// Zero is a valid configured value.
func (s *SearchConfig) ThresholdOrDefault() float64 {
	if s.DefaultThreshold != nil {
		return *s.DefaultThreshold
	}
	return DefaultThreshold
}

// AutoMatchThresholdOrDefault returns the automatic-match threshold; defaults to 0.7 when unset.
func (s *SearchConfig) AutoMatchThresholdOrDefault() float64 {
	if s.AutoMatchThreshold != nil {
		return *s.AutoMatchThreshold
	}
	return DefaultThreshold
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyEnv(&cfg)
	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Storage.UploadsDir = expandPath(cfg.Storage.UploadsDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path. Used by the init command.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects settings that cannot work.
func Validate(cfg *Config) error {
	switch cfg.Embedding.Type {
	case "histogram", "onnx", "mock":
	default:
		return fmt.Errorf("invalid config: embedding.type must be histogram, onnx or mock, got %q", cfg.Embedding.Type)
	}
	if cfg.Embedding.Type == "onnx" && cfg.Embedding.ModelPath == "" {
		return fmt.Errorf("invalid config: embedding.model_path is required for onnx")
	}
	switch cfg.Embedding.CacheBackend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("invalid config: embedding.cache_backend must be memory, redis or none, got %q", cfg.Embedding.CacheBackend)
	}
	for _, t := range cfg.Search.AutoMatchTypes {
		if t != "LOST" && t != "FOUND" {
			return fmt.Errorf("invalid config: search.auto_match_types entry %q must be LOST or FOUND", t)
		}
	}
	if cfg.Search.DefaultLimit > cfg.Search.MaxLimit {
		return fmt.Errorf("invalid config: search.default_limit %d exceeds max_limit %d", cfg.Search.DefaultLimit, cfg.Search.MaxLimit)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BELONGINGS_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("BELONGINGS_REDIS_ADDR"); v != "" {
		cfg.Embedding.RedisAddr = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
