package models

import "fmt"

// FilterAll matches every value of a type or status filter.
const FilterAll = "ALL"

// ListQuery filters and paginates the post listing.
type ListQuery struct {
	Type     ItemType   `json:"type,omitempty"`
	Category Category   `json:"category,omitempty"`
	Status   PostStatus `json:"status,omitempty"`
	Search   string     `json:"search,omitempty"`
	Page     int        `json:"page,omitempty"`
	Limit    int        `json:"limit,omitempty"`

	// AnyStatus lists posts in every status. Set by Validate when Status is ALL.
	AnyStatus bool `json:"-"`
}

// Validate sets defaults (page 1, limit 10, ACTIVE) and caps limit at 100.
// "ALL" as type, category or status is treated as no filter.
func (q *ListQuery) Validate() error {
	if q.Type == FilterAll {
		q.Type = ""
	}
	if q.Type != "" && !q.Type.Valid() {
		return fmt.Errorf("%w: type must be LOST or FOUND", ErrInvalidInput)
	}
	if q.Category == FilterAll {
		q.Category = ""
	}
	if q.Category != "" && !q.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, q.Category)
	}
	if q.Status == FilterAll {
		q.Status = ""
		q.AnyStatus = true
	}
	if q.Status == "" && !q.AnyStatus {
		q.Status = StatusActive
	}
	if q.Status != "" && !q.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, q.Status)
	}
	if q.Page <= 0 {
		q.Page = 1
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	return nil
}

// Offset returns the row offset for the current page.
func (q *ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}

// PostList is one page of a post listing.
type PostList struct {
	Posts []*Post `json:"posts"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Pages int     `json:"pages"`
}
