// Package storage provides object storage abstractions used as the
// quarantine sink: a local filesystem backend and an S3 backend.
package storage

import (
	"context"
	"errors"
)

// Common errors for storage operations.
var (
	ErrObjectNotFound     = errors.New("object not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrUploadFailed       = errors.New("upload failed")
	ErrDownloadFailed     = errors.New("download failed")
)

// ObjectStorage abstracts object storage operations on small blobs.
// Objects are write-once: there is no overwrite and no delete.
type ObjectStorage interface {
	// Put writes data to a new object at objectPath.
	// Returns ErrPreconditionFailed if the object already exists.
	Put(ctx context.Context, objectPath string, data []byte) error

	// Get reads the full content of an object.
	// Returns ErrObjectNotFound if it does not exist.
	Get(ctx context.Context, objectPath string) ([]byte, error)

	// ListObjects returns all object paths under the given prefix, using
	// forward slashes, in lexical order.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}
