// Package models defines core data structures for posts, matches, and notifications.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidInput is returned when user-supplied post data fails validation.
var ErrInvalidInput = errors.New("invalid input")

// ItemType says whether a post reports a lost or a found item.
type ItemType string

const (
	// ItemLost is a post by someone who lost an item.
	ItemLost ItemType = "LOST"
	// ItemFound is a post by someone who found an item.
	ItemFound ItemType = "FOUND"
)

// Valid reports whether t is LOST or FOUND.
func (t ItemType) Valid() bool {
	return t == ItemLost || t == ItemFound
}

// Opposite returns the type that posts of type t are matched against.
func (t ItemType) Opposite() ItemType {
	if t == ItemLost {
		return ItemFound
	}
	return ItemLost
}

// ParseItemType parses s case-insensitively. An empty string is an error.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: item type must be LOST or FOUND, got %q", ErrInvalidInput, s)
	}
	return t, nil
}

// Category is the kind of item.
type Category string

const (
	CategoryIDCard       Category = "ID_CARD"
	CategoryElectronics  Category = "ELECTRONICS"
	CategoryStationery   Category = "STATIONERY"
	CategoryClothing     Category = "CLOTHING"
	CategoryBags         Category = "BAGS"
	CategoryWaterBottles Category = "WATER_BOTTLES"
	CategoryOther        Category = "OTHER"
)

// Categories lists every accepted category.
var Categories = []Category{
	CategoryIDCard, CategoryElectronics, CategoryStationery, CategoryClothing,
	CategoryBags, CategoryWaterBottles, CategoryOther,
}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// PostStatus is the moderation state of a post.
type PostStatus string

const (
	StatusActive   PostStatus = "ACTIVE"
	StatusClaimed  PostStatus = "CLAIMED"
	StatusArchived PostStatus = "ARCHIVED"
)

// Valid reports whether s is a known status.
func (s PostStatus) Valid() bool {
	return s == StatusActive || s == StatusClaimed || s == StatusArchived
}

// MaxImagesPerPost is the number of photos a single post may carry.
const MaxImagesPerPost = 3

// Post is a LOST or FOUND item. Features is the image feature vector extracted from
// the first image; it is empty when the post has no image or extraction failed.
type Post struct {
	ID          string     `json:"id"`
	Type        ItemType   `json:"type"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Category    Category   `json:"category,omitempty"`
	Location    string     `json:"location,omitempty"`
	Date        time.Time  `json:"date"`
	Images      []string   `json:"images"`
	Features    []float32  `json:"features,omitempty"`
	UserID      string     `json:"user_id"`
	Status      PostStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// HasFeatures reports whether the post carries a usable feature vector.
func (p *Post) HasFeatures() bool {
	return p != nil && len(p.Features) > 0
}

// Clone returns a shallow copy with its own Images and Features slices.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	c := *p
	c.Images = append([]string(nil), p.Images...)
	if len(p.Features) > 0 {
		c.Features = append([]float32(nil), p.Features...)
	}
	return &c
}

// PostInput is the user-supplied part of a new post.
type PostInput struct {
	Type        ItemType  `json:"type"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Category    Category  `json:"category,omitempty"`
	Location    string    `json:"location,omitempty"`
	Date        time.Time `json:"date,omitempty"`
	UserID      string    `json:"-"`
}

// Validate checks required fields and enums. Date defaults to now when unset.
func (in *PostInput) Validate() error {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: type must be LOST or FOUND", ErrInvalidInput)
	}
	if in.Category != "" && !in.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if in.Date.IsZero() {
		in.Date = time.Now()
	}
	return nil
}

// PostUpdate carries optional field changes. Type is deliberately absent: it never changes.
type PostUpdate struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	Category    *Category   `json:"category,omitempty"`
	Location    *string     `json:"location,omitempty"`
	Status      *PostStatus `json:"status,omitempty"`
}

// Apply copies the set fields onto p after validating them.
func (u *PostUpdate) Apply(p *Post) error {
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return fmt.Errorf("%w: title cannot be empty", ErrInvalidInput)
		}
		p.Title = title
	}
	if u.Category != nil {
		if !u.Category.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, *u.Category)
		}
		p.Category = *u.Category
	}
	if u.Status != nil {
		if !u.Status.Valid() {
			return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *u.Status)
		}
		p.Status = *u.Status
	}
	if u.Description != nil {
		p.Description = *u.Description
	}
	if u.Location != nil {
		p.Location = *u.Location
	}
	return nil
}
