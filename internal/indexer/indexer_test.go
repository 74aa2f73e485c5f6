package indexer

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/umt-belongings/hub/internal/config"
	"github.com/umt-belongings/hub/internal/embedding"
	"github.com/umt-belongings/hub/internal/keyword"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/search"
	"github.com/umt-belongings/hub/internal/storage"
	"github.com/umt-belongings/hub/internal/uploads"
)

type harness struct {
	idx     *Indexer
	store   *storage.SQLiteStorage
	ext     *embedding.MockExtractor
	kw      *keyword.BleveIndex
	uploads *uploads.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	kw, err := keyword.NewBleveIndex(filepath.Join(dir, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })
	up, err := uploads.NewStore(filepath.Join(dir, "uploads"), uploads.DefaultMaxBytes)
	if err != nil {
		t.Fatal(err)
	}
	ext := embedding.NewMockExtractor(3)
	cfg := &config.SearchConfig{DefaultLimit: 5, MaxLimit: 50, AutoMatchLimit: 3, AutoMatchTypes: []string{"LOST"}}
	engine := search.NewEngine(store, ext, kw, cfg, search.WithNotifier(search.NewStoreNotifier(store, nil)))
	return &harness{
		idx:     NewIndexer(store, engine, kw, up, WithNotifier(search.NewStoreNotifier(store, nil))),
		store:   store,
		ext:     ext,
		kw:      kw,
		uploads: up,
	}
}

func pngFile(t *testing.T, name string, c color.Color) uploads.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return uploads.File{Name: name, ContentType: "image/png", Data: buf.Bytes()}
}

var (
	red  = color.RGBA{R: 255, A: 255}
	blue = color.RGBA{B: 255, A: 255}
)

func (h *harness) imagePath(publicPath string) string {
	return filepath.Join(h.uploads.Dir(), strings.TrimPrefix(publicPath, uploads.URLPrefix))
}

func TestIndexPost_StoresAndMatches(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	foundImg := pngFile(t, "wallet.png", red)
	lostImg := pngFile(t, "my wallet.png", blue)
	h.ext.Set(foundImg.Data, []float32{1, 0, 0})
	h.ext.Set(lostImg.Data, []float32{0.98, 0.02, 0})

	found, err := h.idx.IndexPost(ctx, &models.PostInput{
		Type: models.ItemFound, Title: "Brown wallet", Category: models.CategoryOther, UserID: "finder",
	}, []uploads.File{foundImg})
	if err != nil {
		t.Fatal(err)
	}
	if len(found.Matches) != 0 {
		t.Errorf("FOUND post auto-matched %d posts", len(found.Matches))
	}

	lost, err := h.idx.IndexPost(ctx, &models.PostInput{
		Type: models.ItemLost, Title: "Lost wallet", Location: "Cafeteria", UserID: "loser",
	}, []uploads.File{lostImg, foundImg})
	if err != nil {
		t.Fatal(err)
	}
	if lost.FeatureError != "" {
		t.Errorf("unexpected feature error %q", lost.FeatureError)
	}
	if len(lost.Matches) != 1 || lost.Matches[0].Post.ID != found.Post.ID {
		t.Fatalf("matches = %+v, want the found wallet", lost.Matches)
	}

	stored, err := h.store.GetPost(ctx, lost.Post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Features) != 3 {
		t.Errorf("stored features = %v", stored.Features)
	}
	if len(stored.Images) != 2 {
		t.Fatalf("stored images = %v", stored.Images)
	}
	for _, p := range stored.Images {
		if !strings.HasPrefix(p, uploads.URLPrefix) {
			t.Errorf("image path %q lacks prefix", p)
		}
		if _, err := os.Stat(h.imagePath(p)); err != nil {
			t.Errorf("image %s not on disk: %v", p, err)
		}
	}

	notes, err := h.store.ListNotifications(ctx, "loser", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Errorf("notifications = %d, want 1", len(notes))
	}

	hits, err := h.kw.Search(ctx, "cafeteria", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].ID != lost.Post.ID {
		t.Errorf("keyword hits = %+v", hits)
	}
}

func TestIndexPost_WithoutImages(t *testing.T) {
	h := newHarness(t)
	res, err := h.idx.IndexPost(context.Background(), &models.PostInput{Type: models.ItemLost, Title: "Umbrella"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Post.HasFeatures() || len(res.Post.Images) != 0 || res.FeatureError != "" {
		t.Errorf("post = %+v, feature error %q", res.Post, res.FeatureError)
	}
	if h.ext.Calls() != 0 {
		t.Errorf("extractor called %d times", h.ext.Calls())
	}
}

func TestIndexPost_ExtractionFailureStoresPostWithoutVector(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ext.FailWith(embedding.ErrExtractorUnavailable)

	res, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemLost, Title: "Keys"},
		[]uploads.File{pngFile(t, "keys.png", red)})
	if err != nil {
		t.Fatal(err)
	}
	if res.FeatureError == "" {
		t.Error("feature error not reported")
	}
	stored, err := h.store.GetPost(ctx, res.Post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Features) != 0 {
		t.Errorf("stored features = %v, want none", stored.Features)
	}

	h.ext.FailWith(nil)
	summary, err := h.idx.Backfill(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 1 || summary.Updated != 1 || summary.Failed != 0 {
		t.Errorf("backfill = %+v", summary)
	}
	stored, _ = h.store.GetPost(ctx, res.Post.ID)
	if !stored.HasFeatures() {
		t.Error("backfill did not store features")
	}
}

func TestIndexPost_Validation(t *testing.T) {
	h := newHarness(t)
	img := pngFile(t, "a.png", red)
	tests := []struct {
		name   string
		input  models.PostInput
		images []uploads.File
		want   error
	}{
		{"missing title", models.PostInput{Type: models.ItemLost}, nil, models.ErrInvalidInput},
		{"bad type", models.PostInput{Type: "STOLEN", Title: "x"}, nil, models.ErrInvalidInput},
		{"too many images", models.PostInput{Type: models.ItemLost, Title: "x"}, []uploads.File{img, img, img, img}, models.ErrInvalidInput},
		{"not an image", models.PostInput{Type: models.ItemLost, Title: "x"},
			[]uploads.File{{Name: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}}, uploads.ErrNotImage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			input := tt.input
			_, err := h.idx.IndexPost(context.Background(), &input, tt.images)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
	n, err := h.store.CountPosts(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rejected posts were stored: %d", n)
	}
	entries, _ := os.ReadDir(h.uploads.Dir())
	if len(entries) != 0 {
		t.Errorf("rejected images were saved: %d", len(entries))
	}
}

func TestUpdatePost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemFound, Title: "Water bottle"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	title := "Blue thermos"
	updated, err := h.idx.UpdatePost(ctx, res.Post.ID, &models.PostUpdate{Title: &title})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Title != title || updated.Type != models.ItemFound {
		t.Errorf("updated = %+v", updated)
	}
	hits, err := h.kw.Search(ctx, "thermos", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("keyword index not refreshed: %+v", hits)
	}

	if _, err := h.idx.UpdatePost(ctx, "missing", &models.PostUpdate{Title: &title}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing post: err = %v", err)
	}
}

func TestArchivePost_NotifiesOwner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemFound, Title: "Red umbrella", UserID: "owner-1"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	archived, err := h.idx.ArchivePost(ctx, res.Post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if archived.Status != models.StatusArchived {
		t.Errorf("status = %s, want ARCHIVED", archived.Status)
	}
	stored, err := h.store.GetPost(ctx, res.Post.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != models.StatusArchived {
		t.Errorf("stored status = %s, want ARCHIVED", stored.Status)
	}

	notes, err := h.store.ListNotifications(ctx, "owner-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Fatalf("got %d notifications, want 1", len(notes))
	}
	n := notes[0]
	if n.Type != models.NotificationSystem || n.Link != "/dashboard?tab=posts" {
		t.Errorf("notification = %+v", n)
	}
	if want := `Your post "Red umbrella" has been archived by an admin`; n.Message != want {
		t.Errorf("message = %q, want %q", n.Message, want)
	}

	// Archiving again is not a transition and sends nothing.
	if _, err := h.idx.ArchivePost(ctx, res.Post.ID); err != nil {
		t.Fatal(err)
	}
	notes, err = h.store.ListNotifications(ctx, "owner-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 {
		t.Errorf("got %d notifications after second archive, want 1", len(notes))
	}

	if _, err := h.idx.ArchivePost(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing post: err = %v", err)
	}
}

func TestUpdatePost_ClaimDoesNotNotify(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemLost, Title: "Keys", UserID: "owner-2"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	claimed := models.StatusClaimed
	if _, err := h.idx.UpdatePost(ctx, res.Post.ID, &models.PostUpdate{Status: &claimed}); err != nil {
		t.Fatal(err)
	}
	notes, err := h.store.ListNotifications(ctx, "owner-2", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 0 {
		t.Errorf("got %d notifications, want none", len(notes))
	}
}

func TestReindex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	img := pngFile(t, "phone.png", red)
	h.ext.Set(img.Data, []float32{1, 0, 0})
	res, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemFound, Title: "Phone"}, []uploads.File{img})
	if err != nil {
		t.Fatal(err)
	}

	h.ext.Set(img.Data, []float32{0, 1, 0})
	post, err := h.idx.Reindex(ctx, res.Post.ID)
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := h.store.GetPost(ctx, post.ID)
	if len(stored.Features) != 3 || stored.Features[1] != 1 {
		t.Errorf("features not replaced: %v", stored.Features)
	}

	bare, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemFound, Title: "Scarf"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.idx.Reindex(ctx, bare.Post.ID); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("post without images: err = %v", err)
	}
}

func TestBackfill_SkipsUnreadableImages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ext.FailWith(embedding.ErrExtractionFailed)
	first, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemLost, Title: "Cap"}, []uploads.File{pngFile(t, "cap.png", red)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemLost, Title: "Pen"}, []uploads.File{pngFile(t, "pen.png", blue)}); err != nil {
		t.Fatal(err)
	}
	h.ext.FailWith(nil)
	if err := os.Remove(h.imagePath(first.Post.Images[0])); err != nil {
		t.Fatal(err)
	}

	summary, err := h.idx.Backfill(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total != 2 || summary.Updated != 1 || summary.Failed != 1 {
		t.Errorf("backfill = %+v", summary)
	}
}

func TestBackfill_StopsWhenExtractorUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.ext.FailWith(embedding.ErrExtractorUnavailable)
	if _, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemLost, Title: "Cap"}, []uploads.File{pngFile(t, "cap.png", red)}); err != nil {
		t.Fatal(err)
	}
	if _, err := h.idx.Backfill(ctx, 1); !embedding.IsUnavailable(err) {
		t.Errorf("err = %v, want unavailable", err)
	}
}

func TestDeletePost(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	res, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemFound, Title: "Laptop charger"},
		[]uploads.File{pngFile(t, "charger.png", red)})
	if err != nil {
		t.Fatal(err)
	}
	imgPath := h.imagePath(res.Post.Images[0])

	if err := h.idx.DeletePost(ctx, res.Post.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.store.GetPost(ctx, res.Post.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("post still stored: %v", err)
	}
	if _, err := os.Stat(imgPath); !os.IsNotExist(err) {
		t.Errorf("image still on disk: %v", err)
	}
	if n, _ := h.kw.DocCount(); n != 0 {
		t.Errorf("keyword docs = %d, want 0", n)
	}
	if err := h.idx.DeletePost(ctx, res.Post.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete: err = %v", err)
	}
}

func TestRebuildKeywordIndex(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, title := range []string{"Black umbrella", "Student card"} {
		if _, err := h.idx.IndexPost(ctx, &models.PostInput{Type: models.ItemLost, Title: title}, nil); err != nil {
			t.Fatal(err)
		}
	}
	empty, err := keyword.NewMemoryBleveIndex()
	if err != nil {
		t.Fatal(err)
	}
	defer empty.Close()
	idx := NewIndexer(h.store, nil, empty, h.uploads)
	n, err := idx.RebuildKeywordIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("rebuilt %d posts, want 2", n)
	}
	if count, _ := empty.DocCount(); count != 2 {
		t.Errorf("doc count = %d, want 2", count)
	}
}
