package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/umt-belongings/hub/internal/config"
	"github.com/umt-belongings/hub/internal/embedding"
	"github.com/umt-belongings/hub/internal/models"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after image are moved first",
			args:     []string{"wallet.jpg", "-limit", "3"},
			expected: []string{"-limit", "3", "wallet.jpg"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-type", "LOST", "wallet.jpg"},
			expected: []string{"-type", "LOST", "wallet.jpg"},
		},
		{
			name:     "image only returns unchanged",
			args:     []string{"wallet.jpg"},
			expected: []string{"wallet.jpg"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_ExplicitPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "belongings.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\nembedding:\n  type: mock\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if resolved != path {
		t.Errorf("resolved = %q, want %q", resolved, path)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Embedding.Dimensions != 64 {
		t.Errorf("mock dimensions default = %d, want 64", cfg.Embedding.Dimensions)
	}
}

func TestLoadConfig_DefaultPathFallsBackToCwd(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 7070\n"), 0644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	defer os.Chdir(wd)

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if filepath.Base(resolved) != "config.yaml" || resolved == defaultConfigPath {
		t.Errorf("resolved = %q, want the cwd config.yaml", resolved)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want 7070", cfg.Server.Port)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, _, err := loadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestEmbeddingOptions(t *testing.T) {
	cfg := &config.Config{Embedding: config.EmbeddingConfig{
		Type:         "onnx",
		ModelPath:    "/models/mobilenet.onnx",
		InputName:    "pixel_values",
		OutputName:   "embeddings",
		Dimensions:   1024,
		InputSize:    224,
		MaxPixels:    1_000_000,
		CacheBackend: "redis",
		RedisAddr:    "cache:6379",
		RedisDB:      2,
		CacheTTL:     time.Hour,
	}}
	opts := embeddingOptions(cfg)
	if opts.Type != embedding.TypeONNX {
		t.Errorf("Type = %q", opts.Type)
	}
	want := embedding.ONNXConfig{
		ModelPath:  "/models/mobilenet.onnx",
		InputName:  "pixel_values",
		OutputName: "embeddings",
		InputSize:  224,
		Dimensions: 1024,
		MaxPixels:  1_000_000,
	}
	if opts.ONNX != want {
		t.Errorf("ONNX = %+v, want %+v", opts.ONNX, want)
	}
	if opts.MaxPixels != 1_000_000 {
		t.Errorf("MaxPixels = %d", opts.MaxPixels)
	}
	if opts.CacheBackend != embedding.CacheRedis || opts.RedisAddr != "cache:6379" || opts.RedisDB != 2 || opts.CacheTTL != time.Hour {
		t.Errorf("cache options not mapped: %+v", opts)
	}
}

func TestMatchViaHTTP(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "wallet.jpg")
	if err := os.WriteFile(imagePath, []byte("fake image bytes"), 0644); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/posts/find-similar" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("type") != "LOST" || q.Get("threshold") != "0.6" || q.Get("limit") != "2" {
			t.Errorf("query = %v", q)
		}
		f, fh, err := r.FormFile("image")
		if err != nil {
			t.Errorf("FormFile: %v", err)
		} else {
			body, _ := io.ReadAll(f)
			f.Close()
			if fh.Filename != "wallet.jpg" || string(body) != "fake image bytes" {
				t.Errorf("uploaded %q = %q", fh.Filename, body)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.MatchResponse{
			Matches:    []*models.Match{{Post: &models.Post{ID: "p1", Title: "Brown wallet"}, Score: 0.91}},
			Candidates: 4,
			Threshold:  0.6,
			Limit:      2,
		})
	}))
	defer srv.Close()

	threshold := 0.6
	resp, err := matchViaHTTP(srv.URL, "secret-token", imagePath, &models.SimilarityQuery{
		Type:      models.ItemLost,
		Threshold: &threshold,
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("matchViaHTTP: %v", err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].Post.ID != "p1" || resp.Candidates != 4 {
		t.Errorf("response = %+v", resp)
	}
}

func TestMatchViaHTTP_ServerError(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "keys.png")
	if err := os.WriteFile(imagePath, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"similarity search temporarily unavailable"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := matchViaHTTP(srv.URL, "", imagePath, &models.SimilarityQuery{})
	if err == nil {
		t.Fatal("expected error for 503")
	}
}

func TestStatusViaHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/status" {
			t.Errorf("path = %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"posts": 3, "posts_with_vectors": 2})
	}))
	defer srv.Close()

	status, err := statusViaHTTP(srv.URL)
	if err != nil {
		t.Fatalf("statusViaHTTP: %v", err)
	}
	if status["posts"] != float64(3) {
		t.Errorf("posts = %v", status["posts"])
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Storage: config.StorageConfig{
			DatabasePath:   filepath.Join(dir, "db", "belongings.db"),
			BleveIndexPath: filepath.Join(dir, "indices", "bleve"),
			UploadsDir:     filepath.Join(dir, "uploads"),
		},
		Embedding: config.EmbeddingConfig{Type: "mock", Dimensions: 8, CacheBackend: "none"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestInitializeComponents(t *testing.T) {
	cfg := testConfig(t)
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	defer c.Close()

	if c.Loader.Name() != "mock" {
		t.Errorf("loader name = %q", c.Loader.Name())
	}
	if c.Loader.Ready() {
		t.Error("loader should not be ready before Load")
	}
	if err := c.Loader.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Loader.Dimensions() != 8 {
		t.Errorf("dimensions = %d, want 8", c.Loader.Dimensions())
	}
	if _, err := os.Stat(cfg.Storage.UploadsDir); err != nil {
		t.Errorf("uploads dir not created: %v", err)
	}
}

func TestRebuildKeywordsIfEmpty(t *testing.T) {
	cfg := testConfig(t)
	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("initializeComponents: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	post := &models.Post{
		Type:     models.ItemFound,
		Title:    "Blue water bottle",
		Category: models.CategoryWaterBottles,
		Location: "Library",
		Date:     time.Now(),
		UserID:   "u1",
	}
	if err := c.Storage.CreatePost(ctx, post); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	rebuildKeywordsIfEmpty(ctx, c, zap.NewNop())

	docs, err := c.KeywordIndex.DocCount()
	if err != nil {
		t.Fatalf("DocCount: %v", err)
	}
	if docs != 1 {
		t.Errorf("DocCount = %d, want 1", docs)
	}
}
