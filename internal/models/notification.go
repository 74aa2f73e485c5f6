package models

import "time"

// NotificationType classifies an in-app notification.
type NotificationType string

const (
	NotificationMatch  NotificationType = "MATCH"
	NotificationClaim  NotificationType = "CLAIM"
	NotificationChat   NotificationType = "CHAT"
	NotificationSystem NotificationType = "SYSTEM"
)

// Notification is an in-app message for one user. Delivery to the user's device
// happens elsewhere; this is only the stored record.
type Notification struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	Message   string           `json:"message"`
	Type      NotificationType `json:"type"`
	Link      string           `json:"link,omitempty"`
	Read      bool             `json:"read"`
	CreatedAt time.Time        `json:"created_at"`
}
