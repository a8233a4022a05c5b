package domain

import (
	"context"
	"io"
	"time"
)

// ArchiveKind names the record family an archive object holds. It is the
// first path segment under archive/.
type ArchiveKind string

const (
	ArchiveCheckpoints   ArchiveKind = "checkpoints"
	ArchiveOpportunities ArchiveKind = "opportunities"
)

// BlobInfo describes one archived object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader backs the archive download API and the archiver's
// already-uploaded check. Get on a missing path returns ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver moves pruned records to cold storage before they are deleted.
// A batch that was already archived is not uploaded again.
type Archiver interface {
	ArchiveCheckpoints(ctx context.Context, batch []Checkpoint) error
	ArchiveOpportunities(ctx context.Context, batch []Opportunity) error
}
