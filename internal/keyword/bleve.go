package keyword

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/umt-belongings/hub/internal/models"
)

// postDocument is the indexed projection of a post.
type postDocument struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Category    string `json:"category"`
	Type        string `json:"type"`
}

// BleveIndex implements KeywordIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

func newIndexMapping() *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()
	textFieldMapping := bleve.NewTextFieldMapping()
	// Standard analyzer (lowercase + tokenize, no stemming) so "airpods" matches "AirPods" exactly.
	textFieldMapping.Analyzer = standard.Name
	docMapping.AddFieldMappingsAt("title", textFieldMapping)
	docMapping.AddFieldMappingsAt("description", textFieldMapping)
	docMapping.AddFieldMappingsAt("location", textFieldMapping)
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	docMapping.AddFieldMappingsAt("category", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("type", keywordFieldMapping)
	im.AddDocumentMapping("post", docMapping)
	im.DefaultType = "post"
	im.DefaultMapping = docMapping
	return im
}

// NewBleveIndex creates or opens a Bleve index at path.
// If you change the index mapping in code, remove the index directory and run reindex.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}

	index, err := bleve.New(path, newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// NewMemoryBleveIndex creates an in-memory index, used by tests and one-off CLI runs.
func NewMemoryBleveIndex() (*BleveIndex, error) {
	index, err := bleve.NewMemOnly(newIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

// Index indexes the searchable fields of a post, replacing any previous entry.
func (b *BleveIndex) Index(ctx context.Context, post *models.Post) error {
	return b.index.Index(post.ID, postDocument{
		Title:       post.Title,
		Description: post.Description,
		Location:    post.Location,
		Category:    string(post.Category),
		Type:        string(post.Type),
	})
}

// Search matches query terms against title, description and location and returns up
// to limit post IDs, best first. Each term also matches as a prefix so partial words
// ("back" for "backpack") still find posts.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 || limit <= 0 {
		return []*KeywordResult{}, nil
	}

	titleBoost := 2.0
	fuzzyEnabled := false
	fuzziness := 1
	if opts != nil {
		if opts.TitleBoost > 0 {
			titleBoost = opts.TitleBoost
		}
		fuzzyEnabled = opts.FuzzyEnabled
		if opts.Fuzziness > 0 {
			fuzziness = opts.Fuzziness
		}
	}

	var clauses []blevequery.Query
	for _, field := range []string{"title", "description", "location"} {
		boost := 1.0
		if field == "title" {
			boost = titleBoost
		}
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		mq.SetBoost(boost)
		clauses = append(clauses, mq)

		for _, term := range terms {
			pq := bleve.NewPrefixQuery(term)
			pq.SetField(field)
			pq.SetBoost(boost * 0.5)
			clauses = append(clauses, pq)

			if fuzzyEnabled {
				fq := bleve.NewFuzzyQuery(term)
				fq.SetFuzziness(fuzziness)
				fq.SetField(field)
				fq.SetBoost(boost * 0.5)
				clauses = append(clauses, fq)
			}
		}
	}

	var q blevequery.Query = bleve.NewDisjunctionQuery(clauses...)
	if filters := filterQueries(opts); len(filters) > 0 {
		q = bleve.NewConjunctionQuery(append(filters, q)...)
	}
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	results, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(results.Hits))
	for i, hit := range results.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// filterQueries turns the exact-match options into term queries on the keyword fields.
func filterQueries(opts *SearchOptions) []blevequery.Query {
	if opts == nil {
		return nil
	}
	var filters []blevequery.Query
	if opts.Type != "" {
		tq := bleve.NewTermQuery(string(opts.Type))
		tq.SetField("type")
		filters = append(filters, tq)
	}
	if opts.Category != "" {
		cq := bleve.NewTermQuery(string(opts.Category))
		cq.SetField("category")
		filters = append(filters, cq)
	}
	return filters
}

// tokenizeQuery splits query into lowercase terms, filtering out empty strings.
func tokenizeQuery(query string) []string {
	words := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w != "" {
			terms = append(terms, w)
		}
	}
	return terms
}

// Delete removes a post from the index.
func (b *BleveIndex) Delete(ctx context.Context, id string) error {
	return b.index.Delete(id)
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}

// DocCount returns the total number of posts in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}
