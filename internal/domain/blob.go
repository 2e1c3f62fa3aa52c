package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo is one entry of an object listing. Snapshot keys sort by the
// time they were taken, so listings are usually consumed sorted by Path.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads snapshot objects. PutMultipart is for payloads of at
// least one part size.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader reads snapshots back for restore. Get returns ErrNotFound for a
// missing key.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// BlobPruner removes old snapshots. Deleting a missing key is not an error.
type BlobPruner interface {
	Delete(ctx context.Context, paths ...string) error
}

// SnapshotStore is the object storage the archiver uploads to, restores
// from and prunes.
type SnapshotStore interface {
	BlobWriter
	BlobReader
	BlobPruner
}
