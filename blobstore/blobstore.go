// Package blobstore abstracts the destination for snapshot backups. A Store
// holds opaque named blobs; the engine uses it to copy its snapshot pair off
// the local disk and to restore it later.
package blobstore

import (
	"context"
	"io"
	"os"
)

// ErrNotFound is returned by Get when the named blob does not exist.
var ErrNotFound = os.ErrNotExist

// Store is a named blob container.
type Store interface {
	// Put stores the blob under name, overwriting any previous content.
	// size may be -1 when unknown.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	// Get opens the blob stored under name. The caller closes the reader.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
}
