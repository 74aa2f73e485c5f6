// Package main is the Belongings Hub CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/umt-belongings/hub/internal/cli"
	"github.com/umt-belongings/hub/internal/config"
	"github.com/umt-belongings/hub/internal/embedding"
	"github.com/umt-belongings/hub/internal/indexer"
	"github.com/umt-belongings/hub/internal/keyword"
	"github.com/umt-belongings/hub/internal/metrics"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/search"
	"github.com/umt-belongings/hub/internal/server"
	"github.com/umt-belongings/hub/internal/storage"
	"github.com/umt-belongings/hub/internal/uploads"
	"github.com/umt-belongings/hub/internal/watcher"
	"github.com/umt-belongings/hub/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/belongings/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "match":
		runMatch()
	case "reindex":
		runReindex()
	case "status":
		runStatus()
	case "init":
		runInit()
	case "version", "--version", "-v":
		fmt.Printf("belongings version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("extractor", cfg.Embedding.Type),
	)
	if cfg.Server.JWTSecret == "" {
		logger.Warn("server.jwt_secret is empty; authenticated routes will reject every request")
	}

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The API serves listings while the model loads; similarity calls return 503 until then.
	go func() {
		if err := components.Loader.Load(ctx); err != nil {
			logger.Error("extractor failed to load", zap.Error(err))
		}
	}()
	go rebuildKeywordsIfEmpty(ctx, components, logger)

	if cfg.Embedding.WatchModel && cfg.Embedding.ModelPath != "" {
		watchOpts := []watcher.WatcherOption{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		modelWatcher := watcher.NewWatcher(
			[]string{cfg.Embedding.ModelPath},
			func(path string) {
				if err := components.Loader.Reload(ctx); err != nil {
					logger.Warn("model reload failed; keeping previous extractor", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := modelWatcher.Start(ctx); err != nil {
			logger.Warn("model watcher not started", zap.Error(err))
		} else {
			defer modelWatcher.Stop()
		}
	}

	srv := server.NewServer(
		components.Engine,
		components.Indexer,
		components.Storage,
		components.Uploads,
		cfg,
		logger,
		server.WithMetrics(components.Metrics),
		server.WithExtractorStatus(components.Loader),
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

func rebuildKeywordsIfEmpty(ctx context.Context, c *Components, logger *zap.Logger) {
	docs, err := c.KeywordIndex.DocCount()
	if err != nil || docs > 0 {
		return
	}
	posts, err := c.Storage.CountPosts(ctx)
	if err != nil || posts == 0 {
		return
	}
	n, err := c.Indexer.RebuildKeywordIndex(ctx)
	if err != nil {
		logger.Warn("keyword index rebuild failed", zap.Error(err))
		return
	}
	logger.Info("keyword index rebuilt", zap.Int("posts", n))
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse() sees them: "belongings match photo.jpg -limit 3".
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printMatchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: belongings match [flags] <image>\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Ranks stored posts by how similar their first image is to <image>.
  • --type FOUND (default) searches found items; --type LOST searches lost reports.
  • --threshold and --limit override the configured defaults (0.7 and 5).
  • With --server "" the command opens the database directly; stop the server first.

Examples:
  belongings match wallet.jpg
  belongings match --type LOST --threshold 0.6 --limit 10 bottle.png
  belongings match --output json --token $BELONGINGS_TOKEN keys.webp
`)
}

func runMatch() {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	token := fs.String("token", os.Getenv("BELONGINGS_TOKEN"), "bearer token for the server (default $BELONGINGS_TOKEN)")
	itemType := fs.String("type", string(models.ItemFound), "item type to search: FOUND or LOST")
	threshold := fs.Float64("threshold", 0, "minimum similarity (default from config)")
	limit := fs.Int("limit", 0, "maximum matches (default from config)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printMatchUsage(fs) }
	_ = fs.Parse(argsReorder(os.Args[2:]))

	if fs.NArg() != 1 {
		printMatchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := &models.SimilarityQuery{Type: models.ItemType(*itemType), Limit: *limit}
	if flagSet(fs, "threshold") {
		query.Threshold = threshold
	}
	imagePath := fs.Arg(0)

	var resp *models.MatchResponse
	if *serverURL != "" {
		resp, err = matchViaHTTP(*serverURL, *token, imagePath, query)
	} else {
		resp, err = matchDirect(*configPath, imagePath, query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Match failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteMatches(os.Stdout, resp, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func matchDirect(configPath, imagePath string, query *models.SimilarityQuery) (*models.MatchResponse, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	defer logger.Sync()
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Loader.Load(ctx); err != nil {
		return nil, err
	}
	return components.Engine.FindSimilar(ctx, data, query)
}

// matchViaHTTP posts the image to /api/v1/posts/find-similar.
func matchViaHTTP(serverURL, token, imagePath string, query *models.SimilarityQuery) (*models.MatchResponse, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, err
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("image", filepath.Base(imagePath))
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	params := url.Values{}
	if query.Type != "" {
		params.Set("type", string(query.Type))
	}
	if query.Threshold != nil {
		params.Set("threshold", strconv.FormatFloat(*query.Threshold, 'f', -1, 64))
	}
	if query.Limit > 0 {
		params.Set("limit", strconv.Itoa(query.Limit))
	}
	endpoint := serverURL + "/api/v1/posts/find-similar"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequest(http.MethodPost, endpoint, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	var out models.MatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func runReindex() {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	concurrency := fs.Int("concurrency", indexer.DefaultConcurrency, "posts extracted in parallel")
	keywords := fs.Bool("keywords", false, "also rebuild the keyword index from storage")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize", zap.Error(err))
	}
	defer components.Close()

	ctx := context.Background()
	if err := components.Loader.Load(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Extractor failed to load: %v\n", err)
		os.Exit(1)
	}
	if *keywords {
		n, err := components.Indexer.RebuildKeywordIndex(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Keyword rebuild failed: %v\n", err)
			os.Exit(1)
		}
		if format == cli.OutputText {
			fmt.Printf("Keyword index: %d post(s) indexed\n", n)
		}
	}
	res, err := components.Indexer.Backfill(ctx, *concurrency)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Backfill failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteBackfill(os.Stdout, res, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = use direct storage)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	var status map[string]any
	if *serverURL != "" {
		status, err = statusViaHTTP(*serverURL)
	} else {
		status, err = statusDirect(*configPath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func statusDirect(configPath string) (map[string]any, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	ctx := context.Background()
	posts, err := store.CountPosts(ctx)
	if err != nil {
		return nil, err
	}
	withVectors, err := store.CountPostsWithFeatures(ctx)
	if err != nil {
		return nil, err
	}
	notifications, err := store.CountNotifications(ctx)
	if err != nil {
		return nil, err
	}
	status := map[string]any{
		"posts":              posts,
		"posts_with_vectors": withVectors,
		"notifications":      notifications,
		"extractor":          map[string]any{"type": cfg.Embedding.Type, "ready": false},
	}
	if usage, err := storage.MeasureDiskUsage(cfg.Storage.DatabasePath, cfg.Storage.BleveIndexPath, cfg.Storage.UploadsDir); err == nil {
		status["disk_usage"] = usage
		status["disk_usage_bytes"] = usage.Total()
	}
	return status, nil
}

func statusViaHTTP(serverURL string) (map[string]any, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return s, nil
}

func runInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing config file")
	_ = fs.Parse(os.Args[2:])

	if _, err := os.Stat(*configPath); err == nil && !*force {
		fmt.Printf("Config already exists at %s (use --force to overwrite)\n", *configPath)
		os.Exit(1)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(*configPath, cfg); err != nil {
		fmt.Printf("Failed to write config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config written to %s\n", *configPath)
}

// Components holds initialized services.
type Components struct {
	Storage      storage.Storage
	KeywordIndex keyword.KeywordIndex
	Uploads      *uploads.Store
	Loader       *embedding.Loader
	Metrics      *metrics.Metrics
	Engine       *search.Engine
	Indexer      *indexer.Indexer
}

func (c *Components) Close() {
	if c.Loader != nil {
		_ = c.Loader.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

// embeddingOptions maps the embedding config section onto extractor options.
func embeddingOptions(cfg *config.Config) embedding.Options {
	e := cfg.Embedding
	return embedding.Options{
		Type: e.Type,
		ONNX: embedding.ONNXConfig{
			ModelPath:   e.ModelPath,
			LibraryPath: e.LibraryPath,
			InputName:   e.InputName,
			OutputName:  e.OutputName,
			InputSize:   e.InputSize,
			Dimensions:  e.Dimensions,
			MaxPixels:   e.MaxPixels,
		},
		HistogramBins: e.HistogramBins,
		InputSize:     e.InputSize,
		Dimensions:    e.Dimensions,
		MaxPixels:     e.MaxPixels,
		CacheBackend:  e.CacheBackend,
		CacheSize:     e.CacheSize,
		RedisAddr:     e.RedisAddr,
		RedisDB:       e.RedisDB,
		CacheTTL:      e.CacheTTL,
	}
}

// initializeComponents wires storage, indices and services. The extractor is not
// loaded; callers decide whether to load it in the background or up front.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c := &Components{Storage: store}

	c.Uploads, err = uploads.NewStore(cfg.Storage.UploadsDir, cfg.Server.MaxUploadBytes)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize uploads: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.BleveIndexPath), 0755); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	kw, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	c.KeywordIndex = kw

	c.Loader = embedding.NewLoaderFromOptions(embeddingOptions(cfg), logger)
	c.Metrics = metrics.New(metrics.DefaultConfig())

	notifier := search.NewStoreNotifier(store, c.Metrics)
	c.Engine = search.NewEngine(store, c.Loader, kw, &cfg.Search,
		search.WithLogger(logger),
		search.WithNotifier(notifier),
		search.WithMetrics(c.Metrics),
		search.WithExtractorName(c.Loader.Name()),
	)
	c.Indexer = indexer.NewIndexer(store, c.Engine, kw, c.Uploads,
		indexer.WithLogger(logger),
		indexer.WithNotifier(notifier),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`belongings - lost & found image matching service

Usage:
  belongings server [flags]          Start the HTTP server
  belongings match [flags] <image>   Rank posts by similarity to an image
  belongings reindex [flags]         Extract vectors for posts that lack one
  belongings status [flags]          Show storage and extractor status
  belongings init [flags]            Write a default config file
  belongings version                 Show version
  belongings help                    Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/belongings/config.yaml)
  --debug            Enable debug logging

Match Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --token string     Bearer token (default: $BELONGINGS_TOKEN)
  --type string      FOUND (default) or LOST
  --threshold float  Minimum similarity (default from config, 0.7)
  --limit int        Maximum matches (default from config, 5)
  --output string    text or json

Reindex Flags:
  --config string    Config file path
  --concurrency int  Posts extracted in parallel (default: 4)
  --keywords         Also rebuild the keyword index
  --output string    text or json

Status Flags:
  --config string    Config file path (for direct storage mode)
  --server string    Server URL (default: http://localhost:8080). Use --server "" for direct storage.
  --output string    text or json

Examples:
  belongings init --config ./config.yaml
  belongings server --config ./config.yaml
  belongings match --type FOUND wallet.jpg
  belongings reindex --concurrency 8
  belongings status --output json`)
}
