package ranking

import (
	"sort"

	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/vector"
	"go.uber.org/zap"
)

// Rank scores every candidate that has a feature vector against query and returns the
// matches at or above opts.Threshold, best first, at most opts.Limit of them.
//
// Equal scores keep the order in which the candidates were given. Each match holds a copy
// of the candidate; the candidates themselves are not modified.
func Rank(query []float32, candidates []*models.Post, opts Options) []*models.Match {
	matches, _ := rank(query, candidates, opts)
	return matches
}

func rank(query []float32, candidates []*models.Post, opts Options) ([]*models.Match, Stats) {
	stats := Stats{Candidates: len(candidates)}
	if len(query) == 0 || opts.Limit <= 0 || len(candidates) == 0 {
		return []*models.Match{}, stats
	}

	scored := make([]*models.Match, 0, len(candidates))
	for _, c := range candidates {
		if !c.HasFeatures() {
			continue
		}
		stats.Scored++
		scored = append(scored, &models.Match{Post: c, Score: vector.Score(query, c.Features)})
	}

	matches := FilterByMinScore(scored, opts.Threshold)
	stats.AboveThreshold = len(matches)

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	matches = TopN(matches, opts.Limit)

	for _, m := range matches {
		p := *m.Post
		m.Post = &p
	}
	stats.Returned = len(matches)
	return matches, stats
}

// FilterByMinScore keeps matches whose score is at least minScore, preserving order.
func FilterByMinScore(matches []*models.Match, minScore float64) []*models.Match {
	filtered := make([]*models.Match, 0, len(matches))
	for _, m := range matches {
		if m.Score >= minScore {
			filtered = append(filtered, m)
		}
	}
	return filtered
}

// TopN returns the first n matches. n <= 0 returns an empty slice.
func TopN(matches []*models.Match, n int) []*models.Match {
	if n <= 0 {
		return matches[:0]
	}
	if n >= len(matches) {
		return matches
	}
	return matches[:n]
}

// Ranker applies configured defaults to Rank and reports each pass to an Observer.
type Ranker struct {
	defaults Options
	logger   *zap.Logger
	observer Observer
}

// RankerOption configures a Ranker.
type RankerOption func(*Ranker)

// WithLogger sets a logger for debug output of each ranking pass.
func WithLogger(l *zap.Logger) RankerOption {
	return func(r *Ranker) { r.logger = l }
}

// WithObserver sets an observer (e.g. metrics) for each ranking pass.
func WithObserver(o Observer) RankerOption {
	return func(r *Ranker) { r.observer = o }
}

// NewRanker creates a Ranker with the given default options.
func NewRanker(defaults Options, opts ...RankerOption) *Ranker {
	r := &Ranker{defaults: defaults, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Defaults returns the options used when a call does not override them.
func (r *Ranker) Defaults() Options {
	return r.defaults
}

// Rank ranks candidates with opts.
func (r *Ranker) Rank(query []float32, candidates []*models.Post, opts Options) []*models.Match {
	matches, stats := rank(query, candidates, opts)
	r.logger.Debug("ranked candidates",
		zap.Int("candidates", stats.Candidates),
		zap.Int("scored", stats.Scored),
		zap.Int("above_threshold", stats.AboveThreshold),
		zap.Int("returned", stats.Returned),
		zap.Float64("threshold", opts.Threshold),
		zap.Int("limit", opts.Limit),
	)
	if r.observer != nil {
		r.observer.ObserveRank(stats)
	}
	return matches
}
