package search

import (
	"context"
	"fmt"

	"github.com/umt-belongings/hub/internal/metrics"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/storage"
)

// Notifier records a notification for a user. Delivering it to the user's device is
// not its concern.
type Notifier interface {
	Notify(ctx context.Context, n *models.Notification) error
}

// StoreNotifier saves notifications in storage.
type StoreNotifier struct {
	store   storage.Storage
	metrics *metrics.Metrics
}

// NewStoreNotifier returns a Notifier backed by store. m may be nil.
func NewStoreNotifier(store storage.Storage, m *metrics.Metrics) *StoreNotifier {
	return &StoreNotifier{store: store, metrics: m}
}

// Notify stores n.
func (s *StoreNotifier) Notify(ctx context.Context, n *models.Notification) error {
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	s.metrics.RecordNotification(string(n.Type))
	return nil
}

// matchNotification builds the message sent to the owner of a post that has automatic matches.
func matchNotification(post *models.Post, count int) *models.Notification {
	return &models.Notification{
		UserID:  post.UserID,
		Type:    models.NotificationMatch,
		Message: fmt.Sprintf("We found %d item(s) that might match your %s item!", count, itemWord(post.Type)),
		Link:    "/dashboard?tab=matches&post=" + post.ID,
	}
}

func itemWord(t models.ItemType) string {
	if t == models.ItemFound {
		return "found"
	}
	return "lost"
}
