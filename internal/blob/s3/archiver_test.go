package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/skinbot/internal/domain"
)

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	multipart int
	putErr    error
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.putErr != nil {
		return m.putErr
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	m.mu.Lock()
	m.multipart++
	m.mu.Unlock()
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memAudit struct{ events []string }

func (a *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	a.events = append(a.events, event)
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func fixedArchiver(blobs *memBlobs, audit domain.AuditStore) *Archiver {
	a := NewArchiver(blobs, blobs, audit)
	a.now = func() time.Time { return time.Date(2025, 3, 4, 23, 0, 0, 0, time.UTC) }
	return a
}

func TestArchiveCheckpointsWritesJSONL(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := fixedArchiver(blobs, audit)

	batch := []domain.Checkpoint{
		{ScanID: "s1", Status: domain.ScanCompleted},
		{ScanID: "s2", Status: domain.ScanFailed, Reason: "boom"},
	}
	require.NoError(t, a.ArchiveCheckpoints(context.Background(), batch))

	body, ok := blobs.objects["archive/checkpoints/2025/03/04/s1-s2-2.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[1], `"Reason":"boom"`)
	assert.Equal(t, []string{"archive.checkpoints"}, audit.events)
}

func TestArchiveSkipsExistingObject(t *testing.T) {
	blobs := newMemBlobs()
	a := fixedArchiver(blobs, nil)
	batch := []domain.Opportunity{{ID: "o1", EstimatedProfit: decimal.NewFromInt(5)}}

	require.NoError(t, a.ArchiveOpportunities(context.Background(), batch))
	blobs.putErr = errors.New("should not upload twice")

	assert.NoError(t, a.ArchiveOpportunities(context.Background(), batch))
}

func TestArchiveEmptyBatchIsNoop(t *testing.T) {
	blobs := newMemBlobs()
	a := fixedArchiver(blobs, nil)

	require.NoError(t, a.ArchiveCheckpoints(context.Background(), nil))
	assert.Empty(t, blobs.objects)
}

func TestArchiveUploadError(t *testing.T) {
	blobs := newMemBlobs()
	blobs.putErr = errors.New("denied")
	a := fixedArchiver(blobs, nil)

	err := a.ArchiveCheckpoints(context.Background(), []domain.Checkpoint{{ScanID: "s1"}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}
