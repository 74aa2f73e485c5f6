// Package uploads stores post images on local disk.
package uploads

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// URLPrefix is prepended to stored file names to form the public image path.
const URLPrefix = "/uploads/"

// DefaultMaxBytes is the per-file upload limit.
const DefaultMaxBytes = 5 << 20

var (
	// ErrNotImage is returned for uploads whose content is not an image.
	ErrNotImage = errors.New("only image files are allowed")
	// ErrTooLarge is returned for uploads over the size limit.
	ErrTooLarge = errors.New("image exceeds the upload size limit")
	// ErrInvalidPath is returned for image paths outside the upload directory.
	ErrInvalidPath = errors.New("invalid image path")
)

// File is one uploaded image.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Store saves images under a single directory.
type Store struct {
	dir      string
	maxBytes int64
}

// NewStore creates dir if needed. maxBytes <= 0 uses DefaultMaxBytes.
func NewStore(dir string, maxBytes int64) (*Store, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}
	return &Store{dir: dir, maxBytes: maxBytes}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// MaxBytes returns the per-file limit.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// Validate checks the size limit and that both the declared and the sniffed content
// types are images.
func (s *Store) Validate(f File) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s is empty", ErrNotImage, f.Name)
	}
	if int64(len(f.Data)) > s.maxBytes {
		return fmt.Errorf("%w: %s is %d bytes, limit %d", ErrTooLarge, f.Name, len(f.Data), s.maxBytes)
	}
	if f.ContentType != "" && !strings.HasPrefix(f.ContentType, "image/") {
		return fmt.Errorf("%w: %s has type %s", ErrNotImage, f.Name, f.ContentType)
	}
	if sniffed := http.DetectContentType(f.Data); !strings.HasPrefix(sniffed, "image/") {
		return fmt.Errorf("%w: %s looks like %s", ErrNotImage, f.Name, sniffed)
	}
	return nil
}

// Save validates and writes f under a unique name and returns its public path.
func (s *Store) Save(f File) (string, error) {
	if err := s.Validate(f); err != nil {
		return "", err
	}
	name := uuid.New().String() + "-" + sanitizeName(f.Name)
	if err := os.WriteFile(filepath.Join(s.dir, name), f.Data, 0644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return URLPrefix + name, nil
}

// Read returns the bytes of a stored image given its public path.
func (s *Store) Read(publicPath string) ([]byte, error) {
	p, err := s.resolve(publicPath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Delete removes a stored image. Missing files are not an error.
func (s *Store) Delete(publicPath string) error {
	p, err := s.resolve(publicPath)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) resolve(publicPath string) (string, error) {
	name := strings.TrimPrefix(publicPath, URLPrefix)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, publicPath)
	}
	return filepath.Join(s.dir, name), nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "image"
	}
	if len(name) > 100 {
		name = name[len(name)-100:]
	}
	return name
}
