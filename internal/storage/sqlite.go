package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
	"github.com/umt-belongings/hub/internal/models"
	"github.com/umt-belongings/hub/internal/vector"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('LOST', 'FOUND')),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		date TIMESTAMP,
		images TEXT NOT NULL DEFAULT '[]',
		features BLOB,
		user_id TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'ACTIVE',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_posts_created_at ON posts(created_at);
	CREATE INDEX IF NOT EXISTS idx_posts_type_status ON posts(type, status);
	CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts(user_id);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		message TEXT NOT NULL,
		type TEXT NOT NULL,
		link TEXT NOT NULL DEFAULT '',
		read INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, created_at);
	`
	_, err := db.Exec(schema)
	return err
}

const postColumns = `id, type, title, description, category, location, date, images, features, user_id, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*models.Post, error) {
	var (
		p          models.Post
		imagesJSON string
		features   []byte
	)
	err := row.Scan(&p.ID, &p.Type, &p.Title, &p.Description, &p.Category, &p.Location, &p.Date,
		&imagesJSON, &features, &p.UserID, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if imagesJSON != "" {
		if err := json.Unmarshal([]byte(imagesJSON), &p.Images); err != nil {
			return nil, fmt.Errorf("failed to unmarshal images for post %s: %w", p.ID, err)
		}
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	p.Features, err = vector.Decode(features)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", p.ID, err)
	}
	return &p, nil
}

func scanPosts(rows *sql.Rows) ([]*models.Post, error) {
	defer rows.Close()
	posts := []*models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// CreatePost inserts a post. ID, Status and CreatedAt are filled in when empty.
func (s *SQLiteStorage) CreatePost(ctx context.Context, post *models.Post) error {
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.Status == "" {
		post.Status = models.StatusActive
	}
	if post.Images == nil {
		post.Images = []string{}
	}
	imagesJSON, err := json.Marshal(post.Images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}

	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.CreatedAt

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Type, post.Title, post.Description, post.Category, post.Location, post.Date.UTC(),
		string(imagesJSON), vector.Encode(post.Features), post.UserID, post.Status, post.CreatedAt, post.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert post: %w", err)
	}
	return nil
}

// GetPost returns a post by ID.
func (s *SQLiteStorage) GetPost(ctx context.Context, id string) (*models.Post, error) {
	p, err := scanPost(s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("post %w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdatePost updates the editable fields of a post. Type and features are never
// changed here; features are only replaced through ReplaceFeatures.
func (s *SQLiteStorage) UpdatePost(ctx context.Context, post *models.Post) error {
	imagesJSON, err := json.Marshal(post.Images)
	if err != nil {
		return fmt.Errorf("failed to marshal images: %w", err)
	}
	post.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx,
		`UPDATE posts SET title = ?, description = ?, category = ?, location = ?, images = ?, status = ?, updated_at = ?
		 WHERE id = ?`,
		post.Title, post.Description, post.Category, post.Location, string(imagesJSON), post.Status, post.UpdatedAt, post.ID,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("post %w: %s", ErrNotFound, post.ID)
	}
	return nil
}

// DeletePost removes a post by ID.
func (s *SQLiteStorage) DeletePost(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("post %w: %s", ErrNotFound, id)
	}
	return nil
}

// ListPosts returns posts by item date, newest first.
func (s *SQLiteStorage) ListPosts(ctx context.Context, q *models.ListQuery, ids []string) ([]*models.Post, int64, error) {
	if ids != nil && len(ids) == 0 {
		return []*models.Post{}, 0, nil
	}

	var (
		where []string
		args  []any
	)
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}
	if q.Type != "" {
		where = append(where, "type = ?")
		args = append(args, q.Type)
	}
	if q.Category != "" {
		where = append(where, "category = ?")
		args = append(args, q.Category)
	}
	if ids != nil {
		where = append(where, "id IN ("+placeholders(len(ids))+")")
		for _, id := range ids {
			args = append(args, id)
		}
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := 0
	if q.Page > 1 {
		offset = (q.Page - 1) * limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts`+clause+` ORDER BY date DESC, created_at DESC, id LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	posts, err := scanPosts(rows)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// AllPosts returns every post newest first.
func (s *SQLiteStorage) AllPosts(ctx context.Context) ([]*models.Post, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// FetchCandidatesWithVectors returns posts that carry a feature vector, ordered by
// created_at DESC then id so the ranker sees a deterministic candidate order.
func (s *SQLiteStorage) FetchCandidatesWithVectors(ctx context.Context, filter CandidateFilter) ([]*models.Post, error) {
	status := filter.Status
	if status == "" {
		status = models.StatusActive
	}
	where := []string{"features IS NOT NULL", "length(features) > 0", "status = ?"}
	args := []any{status}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, filter.ExcludeID)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE `+strings.Join(where, " AND ")+` ORDER BY created_at DESC, id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candidates: %w", err)
	}
	return scanPosts(rows)
}

// PostsWithoutFeatures returns posts that have images but no feature vector, oldest first.
func (s *SQLiteStorage) PostsWithoutFeatures(ctx context.Context) ([]*models.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE (features IS NULL OR length(features) = 0) AND images <> '[]'
		 ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	return scanPosts(rows)
}

// ReplaceFeatures overwrites a post's feature vector as a whole. An empty vector clears it.
func (s *SQLiteStorage) ReplaceFeatures(ctx context.Context, id string, features []float32) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE posts SET features = ?, updated_at = ? WHERE id = ?`,
		vector.Encode(features), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("post %w: %s", ErrNotFound, id)
	}
	return nil
}

// CreateNotification inserts a notification. ID and CreatedAt are filled in when empty.
func (s *SQLiteStorage) CreateNotification(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, message, type, link, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Message, n.Type, n.Link, n.Read, n.CreatedAt,
	)
	return err
}

// ListNotifications returns a user's notifications newest first. limit <= 0 returns all.
func (s *SQLiteStorage) ListNotifications(ctx context.Context, userID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message, type, link, read, created_at
		 FROM notifications WHERE user_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := []*models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.Link, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &n)
	}
	return list, rows.Err()
}

// MarkNotificationRead marks one of the user's notifications as read.
func (s *SQLiteStorage) MarkNotificationRead(ctx context.Context, userID, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("notification %w: %s", ErrNotFound, id)
	}
	return nil
}

// MarkAllNotificationsRead marks all of the user's notifications as read and returns how many changed.
func (s *SQLiteStorage) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read = 1 WHERE user_id = ? AND read = 0`, userID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// CountPosts returns the total number of posts.
func (s *SQLiteStorage) CountPosts(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM posts`)
}

// CountPostsWithFeatures returns the number of posts that carry a feature vector.
func (s *SQLiteStorage) CountPostsWithFeatures(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM posts WHERE features IS NOT NULL AND length(features) > 0`)
}

// CountNotifications returns the total number of notifications.
func (s *SQLiteStorage) CountNotifications(ctx context.Context) (int64, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM notifications`)
}

func (s *SQLiteStorage) count(ctx context.Context, query string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
