// Package search runs image similarity searches and post listings.
package search

import (
	"context"
	"fmt"
	"time"

	"github.com/umt-belongings/hub/internal/config"
	"github.com/umt-belongings/hub/internal/embedding"
	"github.com/umt-belongings/hub/internal/keyword"
	"github.com/umt-belongings/hub/internal/metrics"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/ranking"
	"github.com/umt-belongings/hub/internal/storage"
	"go.uber.org/zap"
)

// Match modes, used as metric labels.
const (
	ModeSearch = "search"
	ModePost   = "post"
	ModeAuto   = "auto"
)

// Engine ranks stored posts against query images. Type filtering happens here; the
// ranker only scores what it is given.
type Engine struct {
	storage      storage.Storage
	extractor    embedding.Extractor
	keywordIndex keyword.KeywordIndex
	config       *config.SearchConfig
	ranker       *ranking.Ranker
	notifier     Notifier
	metrics      *metrics.Metrics
	logger       *zap.Logger
	extractorID  string
	autoTypes    map[models.ItemType]bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithNotifier sets the notifier used for automatic matches.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithExtractorName sets the extractor label used in metrics.
func WithExtractorName(name string) EngineOption {
	return func(e *Engine) { e.extractorID = name }
}

// NewEngine creates a search engine with the given dependencies.
func NewEngine(
	storage storage.Storage,
	extractor embedding.Extractor,
	keywordIndex keyword.KeywordIndex,
	cfg *config.SearchConfig,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		storage:      storage,
		extractor:    extractor,
		keywordIndex: keywordIndex,
		config:       cfg,
		logger:       zap.NewNop(),
		extractorID:  "unknown",
		autoTypes:    make(map[models.ItemType]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, t := range cfg.AutoMatchTypes {
		e.autoTypes[models.ItemType(t)] = true
	}
	rankerOpts := []ranking.RankerOption{ranking.WithLogger(e.logger)}
	if e.metrics != nil {
		rankerOpts = append(rankerOpts, ranking.WithObserver(e.metrics))
	}
	e.ranker = ranking.NewRanker(e.searchDefaults(), rankerOpts...)
	return e
}

func (e *Engine) searchDefaults() ranking.Options {
	return ranking.Options{Threshold: e.config.ThresholdOrDefault(), Limit: e.config.DefaultLimit}
}

func (e *Engine) autoMatchOptions() ranking.Options {
	return ranking.Options{Threshold: e.config.AutoMatchThresholdOrDefault(), Limit: e.config.AutoMatchLimit}
}

// Extract runs the extractor and records the attempt. Errors are returned unchanged so
// callers can tell ErrExtractorUnavailable from ErrExtractionFailed.
func (e *Engine) Extract(ctx context.Context, image []byte) ([]float32, error) {
	start := time.Now()
	v, err := e.extractor.Extract(ctx, image)
	e.metrics.RecordExtraction(e.extractorID, time.Since(start), err)
	return v, err
}

// FindSimilar extracts a vector from image and ranks posts of q.Type against it.
func (e *Engine) FindSimilar(ctx context.Context, image []byte, q *models.SimilarityQuery) (*models.MatchResponse, error) {
	if err := q.Validate(e.config.MaxLimit); err != nil {
		return nil, err
	}
	vec, err := e.Extract(ctx, image)
	if err != nil {
		return nil, err
	}
	return e.FindSimilarByVector(ctx, vec, q)
}

// FindSimilarByVector ranks posts of q.Type against an already extracted vector.
func (e *Engine) FindSimilarByVector(ctx context.Context, vec []float32, q *models.SimilarityQuery) (*models.MatchResponse, error) {
	if err := q.Validate(e.config.MaxLimit); err != nil {
		return nil, err
	}
	opts := e.searchDefaults().Override(q.Threshold, q.Limit)
	return e.rank(ctx, ModeSearch, vec, storage.CandidateFilter{Type: q.Type}, opts)
}

// SimilarToPost ranks posts of the opposite type against a stored post's vector,
// leaving the post itself out. A post without a vector has no matches.
func (e *Engine) SimilarToPost(ctx context.Context, postID string, q *models.SimilarityQuery) (*models.MatchResponse, error) {
	post, err := e.storage.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	if q == nil {
		q = &models.SimilarityQuery{}
	}
	q.Type = post.Type.Opposite()
	if err := q.Validate(e.config.MaxLimit); err != nil {
		return nil, err
	}
	opts := e.searchDefaults().Override(q.Threshold, q.Limit)
	if !post.HasFeatures() {
		return &models.MatchResponse{Matches: []*models.Match{}, Threshold: opts.Threshold, Limit: opts.Limit}, nil
	}
	return e.rank(ctx, ModePost, post.Features, storage.CandidateFilter{Type: q.Type, ExcludeID: post.ID}, opts)
}

// MatchNewPost runs automatic matching for a newly created post and notifies its owner
// when anything matches. Only posts whose type is configured for automatic matching and
// that carry a vector are matched. A failed notification is logged, not returned.
func (e *Engine) MatchNewPost(ctx context.Context, post *models.Post) ([]*models.Match, error) {
	if !post.HasFeatures() || !e.autoTypes[post.Type] {
		return []*models.Match{}, nil
	}
	resp, err := e.rank(ctx, ModeAuto, post.Features,
		storage.CandidateFilter{Type: post.Type.Opposite(), ExcludeID: post.ID}, e.autoMatchOptions())
	if err != nil {
		return nil, err
	}
	if len(resp.Matches) > 0 && e.notifier != nil && post.UserID != "" {
		if err := e.notifier.Notify(ctx, matchNotification(post, len(resp.Matches))); err != nil {
			e.logger.Warn("match notification failed", zap.String("post_id", post.ID), zap.Error(err))
		}
	}
	return resp.Matches, nil
}

func (e *Engine) rank(ctx context.Context, mode string, vec []float32, filter storage.CandidateFilter, opts ranking.Options) (*models.MatchResponse, error) {
	start := time.Now()
	candidates, err := e.storage.FetchCandidatesWithVectors(ctx, filter)
	if err != nil {
		return nil, err
	}
	matches := e.ranker.Rank(vec, candidates, opts)
	elapsed := time.Since(start)
	e.metrics.RecordMatch(mode, elapsed)
	e.logger.Debug("similarity search",
		zap.String("mode", mode),
		zap.String("type", string(filter.Type)),
		zap.Int("candidates", len(candidates)),
		zap.Int("matches", len(matches)),
		zap.Duration("took", elapsed),
	)
	return &models.MatchResponse{
		Matches:    matches,
		Candidates: len(candidates),
		Threshold:  opts.Threshold,
		Limit:      opts.Limit,
		QueryTime:  elapsed.Milliseconds(),
	}, nil
}

// ListPosts returns one page of posts. A non-empty q.Search restricts the listing to
// the best maxKeywordHits posts the keyword index matches.
func (e *Engine) ListPosts(ctx context.Context, q *models.ListQuery) (*models.PostList, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var ids []string
	if q.Search != "" && e.keywordIndex != nil {
		hits, err := e.keywordIndex.Search(ctx, q.Search, maxKeywordHits, &keyword.SearchOptions{
			TitleBoost:   e.config.KeywordTitleBoost,
			FuzzyEnabled: e.config.KeywordFuzzy,
			Type:         q.Type,
			Category:     q.Category,
		})
		if err != nil {
			return nil, fmt.Errorf("keyword search failed: %w", err)
		}
		if len(hits) == maxKeywordHits {
			e.logger.Debug("keyword search hit cap, listing truncated",
				zap.String("search", q.Search), zap.Int("cap", maxKeywordHits))
		}
		ids = make([]string, len(hits))
		for i, h := range hits {
			ids[i] = h.ID
		}
	}
	posts, total, err := e.storage.ListPosts(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	pages := int((total + int64(q.Limit) - 1) / int64(q.Limit))
	return &models.PostList{Posts: posts, Total: total, Page: q.Page, Pages: pages}, nil
}

// maxKeywordHits bounds how many keyword hits restrict a listing. Matches
// ranked below the cap are not listed or counted in the total.
const maxKeywordHits = 1000
