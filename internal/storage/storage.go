// Package storage defines the object-store boundary.
//
// The service is never in the upload data path; it only presigns writes,
// audits objects after the fact, and deletes them when slots expire.
package storage

import (
	"context"
	"io"
	"time"
)

// HeadResult reports whether an object exists and, if so, its size.
type HeadResult struct {
	Exists bool
	Size   int64
}

// ObjectStore is the interface to an S3-compatible object store.
type ObjectStore interface {
	// Put streams data to the store under key. size may be -1 if unknown.
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (int64, error)
	// Get opens the object at key for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Head checks existence and size of the object at key.
	Head(ctx context.Context, key string) (HeadResult, error)
	// Delete removes the object at key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// PresignPut returns a URL authorizing one direct PUT to key.
	PresignPut(ctx context.Context, key, contentType string, expiry time.Duration) (string, error)
	// PublicURL composes the permanent public URL for key.
	PublicURL(key string) string
}
