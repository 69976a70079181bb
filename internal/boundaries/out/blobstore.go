package out

import (
	"context"
	"io"
	"time"
)

// SignedUpload is a pre-signed upload destination issued by the blob store.
type SignedUpload struct {
	URL   string
	Token string
}

// BlobStore defines the contract for the remote object-storage backend.
type BlobStore interface {
	// Upload writes an object at path. The write is atomic: either the full
	// object exists afterwards or nothing does.
	Upload(ctx context.Context, path string, data io.Reader, contentType string) error

	// PublicURL returns the public URL for an object path.
	PublicURL(path string) string

	// SignedUploadURL issues a pre-signed upload destination for path.
	SignedUploadURL(ctx context.Context, path string) (SignedUpload, error)

	// SignedURL issues a time-limited read URL for an object path.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Remove deletes objects. Missing objects are not an error.
	Remove(ctx context.Context, paths []string) error
}
