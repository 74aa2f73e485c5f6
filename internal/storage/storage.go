// Package storage defines the persistence interface for posts and notifications.
package storage

import (
	"context"
	"errors"

	"github.com/umt-belongings/hub/internal/models"
)

// ErrNotFound is returned when a post or notification does not exist.
var ErrNotFound = errors.New("not found")

// CandidateFilter selects the posts offered to the ranker.
type CandidateFilter struct {
	// Type restricts candidates to one item type; empty means both.
	Type models.ItemType
	// Status restricts candidates to one status; empty means ACTIVE.
	Status models.PostStatus
	// ExcludeID leaves one post out, typically the query post itself.
	ExcludeID string
}

// Storage defines post and notification persistence operations.
type Storage interface {
	// Post operations
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	UpdatePost(ctx context.Context, post *models.Post) error
	DeletePost(ctx context.Context, id string) error
	// ListPosts returns one page of posts matching q and the total number of matches.
	// A non-nil ids restricts the listing to those post IDs.
	ListPosts(ctx context.Context, q *models.ListQuery, ids []string) ([]*models.Post, int64, error)
	AllPosts(ctx context.Context) ([]*models.Post, error)

	// Feature vector operations
	FetchCandidatesWithVectors(ctx context.Context, filter CandidateFilter) ([]*models.Post, error)
	PostsWithoutFeatures(ctx context.Context) ([]*models.Post, error)
	ReplaceFeatures(ctx context.Context, id string, features []float32) error

	// Notification operations
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)

	// Stats
	CountPosts(ctx context.Context) (int64, error)
	CountPostsWithFeatures(ctx context.Context) (int64, error)
	CountNotifications(ctx context.Context) (int64, error)

	Close() error
}
