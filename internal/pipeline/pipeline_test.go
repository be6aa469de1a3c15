package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/clock/manual"
	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/storage/memory"
)

type counterIDs struct{ n atomic.Int64 }

func (c *counterIDs) NewID() (string, error) {
	return fmt.Sprintf("doc-%d", c.n.Add(1)), nil
}

func newPipeline() *Pipeline {
	return New(&counterIDs{}, manual.New(time.Unix(1700000000, 0).UTC()), zap.NewNop())
}

func openSession(t *testing.T, store *memory.Store) ingest.Session {
	t.Helper()
	sess, err := store.OpenSession(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close(context.Background()) })
	return sess
}

var source = ingest.Source{ID: "src-1", Type: ingest.SourceTypeRSS}

func TestIngestIsIdempotent(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	p := newPipeline()
	items := []ingest.Item{
		{Title: "A", Link: "https://example.com/a", Tags: []string{"x"}},
		{Title: "B", Link: "https://example.com/b"},
	}

	first, err := p.Ingest(context.Background(), openSession(t, store), source, items)
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Equal(t, "src-1", first[0].SourceID)
	require.Equal(t, time.Unix(1700000000, 0).UTC(), first[0].CrawledAt)

	second, err := p.Ingest(context.Background(), openSession(t, store), source, items)
	require.NoError(t, err)
	require.Empty(t, second)
	require.Len(t, store.Documents(), 2)
}

func TestIngestDuplicateWithinBatch(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	items := []ingest.Item{
		{Title: "A", Link: "https://example.com/a"},
		{Title: "A again", Link: "https://example.com/a"},
		{Title: "No link"},
	}
	created, err := newPipeline().Ingest(context.Background(), openSession(t, store), source, items)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "A", created[0].Title)
}

type flakySession struct {
	ingest.Session
	failLink string
	dupLink  string
}

func (f *flakySession) DocumentExists(context.Context, string) (bool, error) { return false, nil }

func (f *flakySession) CreateDocument(ctx context.Context, doc ingest.Document) error {
	switch doc.Link {
	case f.failLink:
		return errors.New("disk full")
	case f.dupLink:
		return ingest.ErrDuplicateLink
	}
	return f.Session.CreateDocument(ctx, doc)
}

func TestIngestContinuesPastPersistenceFailure(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	sess := &flakySession{
		Session:  openSession(t, store),
		failLink: "https://example.com/bad",
		dupLink:  "https://example.com/raced",
	}
	items := []ingest.Item{
		{Title: "bad", Link: "https://example.com/bad"},
		{Title: "raced", Link: "https://example.com/raced"},
		{Title: "good", Link: "https://example.com/good"},
	}
	created, err := newPipeline().Ingest(context.Background(), sess, source, items)
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, "https://example.com/good", created[0].Link)
}

func TestIngestStopsOnCancel(t *testing.T) {
	t.Parallel()

	store := memory.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	created, err := newPipeline().Ingest(ctx, openSession(t, store), source, []ingest.Item{
		{Title: "A", Link: "https://example.com/a"},
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, created)
	require.Empty(t, store.Documents())
}
