// Package storage defines the object storage backend contract used by the
// file gateway. Swap implementations by changing the concrete type injected at
// startup: MinIO for any S3-compatible provider, the AWS SDK for Amazon S3,
// and an in-memory backend for tests and local development.
package storage

import (
	"context"
	"io"
	"time"
)

// PutInput describes a single object write.
type PutInput struct {
	Bucket      string
	Key         string
	Body        io.Reader
	Size        int64 // -1 when unknown
	ContentType string
}

// Object is a stored object being streamed back to a caller.
// The caller must close Body.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// ObjectInfo holds object attributes without its content.
type ObjectInfo struct {
	Key          string
	ContentType  string
	Size         int64
	LastModified time.Time
}

// Grant is a pre-signed upload URL handed to a client that transfers the
// bytes directly to the backend. Expiry is enforced by the backend.
type Grant struct {
	URL       string    `json:"url"`
	Key       string    `json:"storageKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Backend is the interface every object storage client implements.
// All methods return *Failure on error.
type Backend interface {
	// Put streams Body to the bucket under Key with the given attributes.
	Put(ctx context.Context, in PutInput) error
	// Get opens a forward-only stream of the object.
	Get(ctx context.Context, bucket, key string) (*Object, error)
	// Delete removes an object.
	Delete(ctx context.Context, bucket, key string) error
	// Stat returns object attributes; a missing object yields a 404 Failure.
	Stat(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	// PresignPut issues a time-limited upload URL for key.
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (*Grant, error)
	// URLFor returns a URL the object can be retrieved from.
	URLFor(ctx context.Context, bucket, key string) (string, error)
}
