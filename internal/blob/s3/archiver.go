package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// ArchiveWriter is the upload surface the archiver needs. *Writer satisfies it.
type ArchiveWriter interface {
	domain.BlobWriter
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// Archiver implements domain.Archiver by writing each pruned batch as one
// JSONL object under archive/<kind>/YYYY/MM/DD/. Batch keys are derived from
// their contents, so a retried prune after a crash finds the object already
// present and skips the upload.
type Archiver struct {
	writer ArchiveWriter
	exists func(ctx context.Context, path string) (bool, error)
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer ArchiveWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer: writer,
		exists: reader.Exists,
		audit:  audit,
		now:    time.Now,
	}
}

func (a *Archiver) ArchiveCheckpoints(ctx context.Context, batch []domain.Checkpoint) error {
	if len(batch) == 0 {
		return nil
	}
	key := fmt.Sprintf("%s-%s-%d", batch[0].ScanID, batch[len(batch)-1].ScanID, len(batch))
	return archiveBatch(ctx, a, domain.ArchiveCheckpoints, key, batch)
}

func (a *Archiver) ArchiveOpportunities(ctx context.Context, batch []domain.Opportunity) error {
	if len(batch) == 0 {
		return nil
	}
	key := fmt.Sprintf("%s-%s-%d", batch[0].ID, batch[len(batch)-1].ID, len(batch))
	return archiveBatch(ctx, a, domain.ArchiveOpportunities, key, batch)
}

func archiveBatch[T any](ctx context.Context, a *Archiver, kind domain.ArchiveKind, key string, batch []T) error {
	path := archivePath(kind, a.now(), key)

	found, err := a.exists(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: archive %s: %w", kind, err)
	}
	if !found {
		buf, err := marshalJSONL(batch)
		if err != nil {
			return fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}
		if len(buf) >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
		} else {
			err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
		}
		if err != nil {
			return fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive."+string(kind), map[string]any{
			"path":     path,
			"count":    len(batch),
			"existing": found,
		}); err != nil {
			return fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}
	}
	return nil
}

// archivePath partitions archives by UTC day, e.g.
//
//	archive/checkpoints/2025/01/02/<key>.jsonl
func archivePath(kind domain.ArchiveKind, at time.Time, key string) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl", kind, at.UTC().Format("2006/01/02"), key)
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
