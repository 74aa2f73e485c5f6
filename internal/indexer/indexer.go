// Package indexer stores new posts, extracts their image vectors and keeps the keyword
// index in step with storage.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/umt-belongings/hub/internal/embedding"
	"github.com/umt-belongings/hub/internal/keyword"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/search"
	"github.com/umt-belongings/hub/internal/storage"
	"github.com/umt-belongings/hub/internal/uploads"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of posts Backfill extracts at once.
const DefaultConcurrency = 4

// Indexer writes posts to storage, the upload store and the keyword index.
type Indexer struct {
	storage      storage.Storage
	engine       *search.Engine
	keywordIndex keyword.KeywordIndex
	uploads      *uploads.Store
	notifier     search.Notifier
	logger       *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithNotifier sets where owners are told about moderation of their posts.
func WithNotifier(n search.Notifier) IndexerOption {
	return func(idx *Indexer) { idx.notifier = n }
}

// NewIndexer creates an indexer. engine is used for extraction and automatic matching.
func NewIndexer(
	storage storage.Storage,
	engine *search.Engine,
	keywordIndex keyword.KeywordIndex,
	uploadStore *uploads.Store,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		storage:      storage,
		engine:       engine,
		keywordIndex: keywordIndex,
		uploads:      uploadStore,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// IndexPost validates and stores a new post with up to three images. The vector comes
// from the first image; when extraction fails the post is stored without one and
// PostCreated.FeatureError says why. Automatic matching runs after the post is stored.
func (idx *Indexer) IndexPost(ctx context.Context, input *models.PostInput, images []uploads.File) (*models.PostCreated, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	if len(images) > models.MaxImagesPerPost {
		return nil, fmt.Errorf("%w: at most %d images per post", models.ErrInvalidInput, models.MaxImagesPerPost)
	}
	for _, img := range images {
		if err := idx.uploads.Validate(img); err != nil {
			return nil, err
		}
	}

	post := &models.Post{
		Type:        input.Type,
		Title:       input.Title,
		Description: input.Description,
		Category:    input.Category,
		Location:    input.Location,
		Date:        input.Date,
		UserID:      input.UserID,
		Images:      []string{},
	}
	result := &models.PostCreated{Post: post, Matches: []*models.Match{}}

	if len(images) > 0 {
		features, err := idx.engine.Extract(ctx, images[0].Data)
		switch {
		case err == nil:
			post.Features = features
		case embedding.IsUnavailable(err) || embedding.IsExtractionFailure(err):
			idx.logger.Warn("storing post without image features", zap.String("image", images[0].Name), zap.Error(err))
			result.FeatureError = err.Error()
		default:
			return nil, err
		}
	}

	for _, img := range images {
		path, err := idx.uploads.Save(img)
		if err != nil {
			idx.removeImages(post.Images)
			return nil, err
		}
		post.Images = append(post.Images, path)
	}

	if err := idx.storage.CreatePost(ctx, post); err != nil {
		idx.removeImages(post.Images)
		return nil, fmt.Errorf("failed to store post: %w", err)
	}
	if err := idx.keywordIndex.Index(ctx, post); err != nil {
		idx.logger.Warn("keyword indexing failed", zap.String("post_id", post.ID), zap.Error(err))
	}
	idx.logger.Debug("post indexed",
		zap.String("post_id", post.ID),
		zap.String("type", string(post.Type)),
		zap.Int("images", len(post.Images)),
		zap.Bool("features", post.HasFeatures()),
	)

	matches, err := idx.engine.MatchNewPost(ctx, post)
	if err != nil {
		idx.logger.Warn("automatic matching failed", zap.String("post_id", post.ID), zap.Error(err))
	} else {
		result.Matches = matches
	}
	return result, nil
}

// UpdatePost applies u to a stored post and refreshes its keyword entry. When the
// update archives the post its owner gets a system notification.
func (idx *Indexer) UpdatePost(ctx context.Context, id string, u *models.PostUpdate) (*models.Post, error) {
	post, err := idx.storage.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := post.Status
	if err := u.Apply(post); err != nil {
		return nil, err
	}
	if err := idx.storage.UpdatePost(ctx, post); err != nil {
		return nil, fmt.Errorf("failed to update post: %w", err)
	}
	if err := idx.keywordIndex.Index(ctx, post); err != nil {
		idx.logger.Warn("keyword indexing failed", zap.String("post_id", post.ID), zap.Error(err))
	}
	if previous != models.StatusArchived && post.Status == models.StatusArchived {
		idx.notifyArchived(ctx, post)
	}
	return post, nil
}

// ArchivePost marks a post ARCHIVED and notifies its owner.
func (idx *Indexer) ArchivePost(ctx context.Context, id string) (*models.Post, error) {
	status := models.StatusArchived
	return idx.UpdatePost(ctx, id, &models.PostUpdate{Status: &status})
}

func (idx *Indexer) notifyArchived(ctx context.Context, post *models.Post) {
	if idx.notifier == nil || post.UserID == "" {
		return
	}
	n := &models.Notification{
		UserID:  post.UserID,
		Type:    models.NotificationSystem,
		Message: fmt.Sprintf("Your post %q has been archived by an admin", post.Title),
		Link:    "/dashboard?tab=posts",
	}
	if err := idx.notifier.Notify(ctx, n); err != nil {
		idx.logger.Warn("archive notification failed", zap.String("post_id", post.ID), zap.Error(err))
	}
}

// Reindex replaces a post's vector with one extracted from its first stored image.
func (idx *Indexer) Reindex(ctx context.Context, id string) (*models.Post, error) {
	post, err := idx.storage.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(post.Images) == 0 {
		return nil, fmt.Errorf("%w: post %s has no images", models.ErrInvalidInput, id)
	}
	data, err := idx.uploads.Read(post.Images[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	features, err := idx.engine.Extract(ctx, data)
	if err != nil {
		return nil, err
	}
	if err := idx.storage.ReplaceFeatures(ctx, id, features); err != nil {
		return nil, fmt.Errorf("failed to store features: %w", err)
	}
	post.Features = features
	idx.logger.Debug("post reindexed", zap.String("post_id", id), zap.Int("dims", len(features)))
	return post, nil
}

// BackfillResult summarizes a Backfill run.
type BackfillResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// Backfill extracts vectors for every post that has images but no vector. Posts whose
// image cannot be read or decoded are counted as failed and skipped; an unavailable
// extractor stops the run.
func (idx *Indexer) Backfill(ctx context.Context, concurrency int) (*BackfillResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	posts, err := idx.storage.PostsWithoutFeatures(ctx)
	if err != nil {
		return nil, err
	}

	var updated, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, p := range posts {
		id := p.ID
		g.Go(func() error {
			_, err := idx.Reindex(gctx, id)
			switch {
			case err == nil:
				updated.Add(1)
				return nil
			case embedding.IsUnavailable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return err
			default:
				failed.Add(1)
				idx.logger.Warn("backfill skipped post", zap.String("post_id", id), zap.Error(err))
				return nil
			}
		})
	}
	err = g.Wait()
	res := &BackfillResult{Total: len(posts), Updated: int(updated.Load()), Failed: int(failed.Load())}
	idx.logger.Info("backfill finished",
		zap.Int("total", res.Total),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
	)
	return res, err
}

// RebuildKeywordIndex indexes every stored post. It repopulates a keyword index that
// was opened empty.
func (idx *Indexer) RebuildKeywordIndex(ctx context.Context) (int, error) {
	posts, err := idx.storage.AllPosts(ctx)
	if err != nil {
		return 0, err
	}
	for _, p := range posts {
		if err := idx.keywordIndex.Index(ctx, p); err != nil {
			return 0, fmt.Errorf("failed to index post %s: %w", p.ID, err)
		}
	}
	return len(posts), nil
}

// DeletePost removes a post from storage, its images from disk and its keyword entry.
func (idx *Indexer) DeletePost(ctx context.Context, id string) error {
	post, err := idx.storage.GetPost(ctx, id)
	if err != nil {
		return err
	}
	if err := idx.keywordIndex.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete from keyword index: %w", err)
	}
	if err := idx.storage.DeletePost(ctx, id); err != nil {
		return fmt.Errorf("failed to delete post: %w", err)
	}
	idx.removeImages(post.Images)
	idx.logger.Debug("post deleted", zap.String("post_id", id))
	return nil
}

func (idx *Indexer) removeImages(paths []string) {
	for _, p := range paths {
		if err := idx.uploads.Delete(p); err != nil {
			idx.logger.Warn("failed to remove image", zap.String("path", p), zap.Error(err))
		}
	}
}
