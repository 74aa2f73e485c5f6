// Package keyword provides full-text search over post titles, descriptions and locations.
package keyword

import (
	"context"

	"github.com/umt-belongings/hub/internal/models"
)

// SearchOptions tunes a keyword search. A nil *SearchOptions searches every post with
// the default boosts.
type SearchOptions struct {
	// TitleBoost weights title hits over description and location hits. Default 2.
	TitleBoost   float64
	FuzzyEnabled bool
	// Fuzziness is the edit distance allowed per term when FuzzyEnabled is set. Default 1.
	Fuzziness int

	// Type and Category restrict hits to posts with exactly that value when set.
	Type     models.ItemType
	Category models.Category
}

// KeywordIndex is the text index the post listing searches.
type KeywordIndex interface {
	// Index adds or replaces the entry for post.
	Index(ctx context.Context, post *models.Post) error
	// Search returns up to limit post IDs matching query, best first.
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	Delete(ctx context.Context, id string) error
	Close() error
	DocCount() (uint64, error)
}

// KeywordResult is one matching post.
type KeywordResult struct {
	ID    string
	Score float64
}
