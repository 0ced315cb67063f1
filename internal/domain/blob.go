package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves ended markets from the database to cold storage and serves
// the stored records back.
type Archiver interface {
	// ArchiveEnded archives every ended, not-yet-archived market and
	// returns the number of markets archived.
	ArchiveEnded(ctx context.Context) (int64, error)

	// OpenArchive streams the cold-storage record of an archived market.
	// Returns ErrNotFound for unknown or not-yet-archived markets.
	OpenArchive(ctx context.Context, id string) (io.ReadCloser, error)
}
