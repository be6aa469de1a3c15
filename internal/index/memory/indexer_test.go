package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sourcesync/internal/ingest"
)

func TestIndexerRecordsBatches(t *testing.T) {
	t.Parallel()

	idx := New()
	batch := []ingest.Document{{ID: "a", Link: "https://example.com/a"}}
	require.NoError(t, idx.Store(context.Background(), batch))
	require.NoError(t, idx.Store(context.Background(), []ingest.Document{{ID: "b"}, {ID: "c"}}))

	batch[0].ID = "mutated"
	got := idx.Batches()
	require.Len(t, got, 2)
	require.Equal(t, "a", got[0][0].ID)
	require.Equal(t, 3, idx.Count())
}
