package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestMockExtractor(t *testing.T) {
	ctx := context.Background()
	e := NewMockExtractor(16)
	a, err := e.Extract(ctx, []byte("img-a"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	again, _ := e.Extract(ctx, []byte("img-a"))
	b, _ := e.Extract(ctx, []byte("img-b"))
	if len(a) != 16 {
		t.Fatalf("len = %d", len(a))
	}
	for i := range a {
		if a[i] != again[i] {
			t.Fatal("same bytes produced different vectors")
		}
	}
	differs := false
	for i := range a {
		if a[i] != b[i] {
			differs = true
		}
	}
	if !differs {
		t.Error("different bytes produced the same vector")
	}

	e.Set([]byte("pinned"), []float32{1, 0})
	p, _ := e.Extract(ctx, []byte("pinned"))
	if len(p) != 2 || p[0] != 1 {
		t.Errorf("pinned vector = %v", p)
	}

	if _, err := e.Extract(ctx, nil); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("empty image err = %v", err)
	}
	e.FailWith(ErrExtractorUnavailable)
	if _, err := e.Extract(ctx, []byte("img-a")); !errors.Is(err, ErrExtractorUnavailable) {
		t.Errorf("err = %v, want ErrExtractorUnavailable", err)
	}
	if e.Calls() != 6 {
		t.Errorf("Calls = %d, want 6", e.Calls())
	}
}
