package models

import "fmt"

// Match is a candidate post paired with its similarity to the query vector.
// It is computed per request and never stored.
type Match struct {
	Post  *Post   `json:"post"`
	Score float64 `json:"score"`
}

// SimilarityQuery carries the per-call overrides for a similarity search.
// Zero Threshold and Limit mean "use the configured defaults".
type SimilarityQuery struct {
	Type      ItemType `json:"type,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// Validate normalizes the query. An empty Type means FOUND, matching the upload form
// where someone who lost an item searches the found items.
func (q *SimilarityQuery) Validate(maxLimit int) error {
	if q.Type == "" {
		q.Type = ItemFound
	}
	if !q.Type.Valid() {
		return fmt.Errorf("%w: type must be LOST or FOUND", ErrInvalidInput)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: limit cannot be negative", ErrInvalidInput)
	}
	if maxLimit > 0 && q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	return nil
}

// MatchResponse is the API shape for a similarity search.
type MatchResponse struct {
	Matches    []*Match `json:"matches"`
	Candidates int      `json:"candidates"`
	Threshold  float64  `json:"threshold"`
	Limit      int      `json:"limit"`
	QueryTime  int64    `json:"query_time_ms"`
}

// PostCreated is returned by the intake flow: the stored post and any automatic matches.
type PostCreated struct {
	Post    *Post    `json:"post"`
	Matches []*Match `json:"matches"`
	// FeatureError explains why the post was stored without a feature vector.
	FeatureError string `json:"feature_error,omitempty"`
}
