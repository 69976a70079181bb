// Package fsblob implements the blob store on the local filesystem, used in
// local mode and in tests. Objects are laid out under a root directory using
// the same paths the remote store would use.
package fsblob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/boundaries/out"
	"github.com/bulgogi-whopper/taptik-cli-sub005/internal/logging"
	"github.com/bulgogi-whopper/taptik-cli-sub005/pkg/validation"
)

// Store is a filesystem-backed blob store.
type Store struct {
	rootDir string
}

// New creates a filesystem blob store rooted at rootDir.
func New(rootDir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(rootDir, "objects"), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}
	logging.Debug("Filesystem blob store initialized", "root", rootDir)
	return &Store{rootDir: rootDir}, nil
}

// Upload writes an object atomically via a temp file and rename.
func (s *Store) Upload(ctx context.Context, path string, data io.Reader, contentType string) error {
	objectPath, err := s.objectPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmpPath := objectPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temporary object file: %w", err)
	}

	written, err := io.Copy(file, data)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write object data: %w", err)
	}

	if err := os.Rename(tmpPath, objectPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move object to final location: %w", err)
	}

	logging.Debug("Object stored", "path", path, "size", written, "content_type", contentType)
	return nil
}

// PublicURL returns a file URL for the object path.
func (s *Store) PublicURL(path string) string {
	abs, err := filepath.Abs(filepath.Join(s.rootDir, "objects", filepath.FromSlash(path)))
	if err != nil {
		abs = filepath.Join(s.rootDir, "objects", filepath.FromSlash(path))
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}

// SignedUploadURL issues a pseudo-signed destination. Local writes need no
// signing, so the token is informational only.
func (s *Store) SignedUploadURL(ctx context.Context, path string) (out.SignedUpload, error) {
	return out.SignedUpload{
		URL:   s.PublicURL(path),
		Token: uuid.New().String(),
	}, nil
}

// SignedURL returns the public URL; local files need no expiry.
func (s *Store) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return s.PublicURL(path), nil
}

// Remove deletes objects. Missing objects are not an error.
func (s *Store) Remove(ctx context.Context, paths []string) error {
	for _, path := range paths {
		objectPath, err := s.objectPath(path)
		if err != nil {
			return err
		}
		if err := os.Remove(objectPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete object %s: %w", path, err)
		}
	}
	return nil
}

// objectPath maps an object path to the filesystem, rejecting traversal.
func (s *Store) objectPath(path string) (string, error) {
	root := filepath.Join(s.rootDir, "objects")
	full := filepath.Join(root, filepath.FromSlash(path))
	if err := validation.ValidatePathWithinRoot(root, full); err != nil {
		return "", fmt.Errorf("invalid object path %q: %w", path, err)
	}
	if strings.Contains(path, "..") {
		return "", fmt.Errorf("invalid object path %q", path)
	}
	return full, nil
}
