package models

import (
	"errors"
	"testing"
)

func TestListQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   *ListQuery
		wantErr bool
	}{
		{"empty query gets defaults", &ListQuery{}, false},
		{"lost type", &ListQuery{Type: ItemLost}, false},
		{"bad type", &ListQuery{Type: "STOLEN"}, true},
		{"ALL category clears filter", &ListQuery{Category: "ALL"}, false},
		{"bad category", &ListQuery{Category: "PETS"}, true},
		{"caps limit at 100", &ListQuery{Limit: 500}, false},
		{"bad status", &ListQuery{Status: "GONE"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Errorf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if tt.query.Page != 1 {
				t.Errorf("expected page 1, got %d", tt.query.Page)
			}
			if tt.query.Limit <= 0 || tt.query.Limit > 100 {
				t.Errorf("limit out of range: %d", tt.query.Limit)
			}
			if tt.query.Status != StatusActive {
				t.Errorf("expected ACTIVE status default, got %s", tt.query.Status)
			}
			if tt.name == "ALL category clears filter" && tt.query.Category != "" {
				t.Errorf("expected empty category, got %s", tt.query.Category)
			}
		})
	}
}

func TestListQuery_ValidateAllFilters(t *testing.T) {
	q := &ListQuery{Type: FilterAll, Status: FilterAll}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.Type != "" || q.Status != "" || !q.AnyStatus {
		t.Fatalf("got type %q status %q any %v, want no filters", q.Type, q.Status, q.AnyStatus)
	}
	// A second pass must not reapply the ACTIVE default.
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.Status != "" {
		t.Errorf("status = %q after revalidation, want empty", q.Status)
	}

	q = &ListQuery{Status: StatusArchived}
	if err := q.Validate(); err != nil {
		t.Fatal(err)
	}
	if q.Status != StatusArchived || q.AnyStatus {
		t.Errorf("status = %q any %v, want ARCHIVED only", q.Status, q.AnyStatus)
	}
}

func TestListQuery_Offset(t *testing.T) {
	q := &ListQuery{Page: 3, Limit: 10}
	if got := q.Offset(); got != 20 {
		t.Errorf("Offset() = %d, want 20", got)
	}
}

func TestSimilarityQuery_Validate(t *testing.T) {
	q := &SimilarityQuery{}
	if err := q.Validate(50); err != nil {
		t.Fatal(err)
	}
	if q.Type != ItemFound {
		t.Errorf("default type should be FOUND, got %s", q.Type)
	}

	q = &SimilarityQuery{Type: ItemLost, Limit: 500}
	if err := q.Validate(50); err != nil {
		t.Fatal(err)
	}
	if q.Limit != 50 {
		t.Errorf("limit should be capped at 50, got %d", q.Limit)
	}

	q = &SimilarityQuery{Limit: -1}
	if err := q.Validate(50); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative limit: got %v", err)
	}
}
