package blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sourcesync/internal/clock/manual"
	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/storage/memory"
)

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestIndexerWritesJSONL(t *testing.T) {
	t.Parallel()

	clock := manual.New(time.Unix(1700000000, 0).UTC())
	blobs := memory.NewBlobStore()
	idx, err := New(blobs, clock, Config{Prefix: "/index/"}, zap.NewNop())
	require.NoError(t, err)

	docs := []ingest.Document{
		{ID: "d1", Title: "One", Link: "https://example.com/1", SourceID: "src-1"},
		{ID: "d2", Title: "Two", Link: "https://example.com/2", SourceID: "src-1"},
	}
	require.NoError(t, idx.Store(context.Background(), docs))

	want := "index/src-1/1700000000-f2f9784142e4.jsonl"
	require.Equal(t, []string{want}, blobs.Paths())

	obj, ok := blobs.Object(want)
	require.True(t, ok)
	require.Equal(t, "application/x-ndjson", obj.ContentType)

	scanner := bufio.NewScanner(bytes.NewReader(obj.Data))
	var got []ingest.Document
	for scanner.Scan() {
		var doc ingest.Document
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &doc))
		got = append(got, doc)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, got, 2)
	require.Equal(t, "d2", got[1].ID)
}

func TestIndexerObjectPathWithoutPrefix(t *testing.T) {
	t.Parallel()

	idx, err := New(memory.NewBlobStore(), manual.New(time.Unix(10, 0)), Config{}, nil)
	require.NoError(t, err)
	got, err := idx.ObjectPath([]ingest.Document{{Link: "x"}})
	require.NoError(t, err)
	require.Equal(t, "unknown/10-2d711642b726.jsonl", got)
}

type fixedHasher struct {
	digest string
	err    error
}

func (h fixedHasher) Hash([]byte) (string, error) { return h.digest, h.err }

func TestIndexerUsesConfiguredHasher(t *testing.T) {
	t.Parallel()

	idx, err := New(memory.NewBlobStore(), manual.New(time.Unix(10, 0)), Config{Hasher: fixedHasher{digest: "abc"}}, nil)
	require.NoError(t, err)
	got, err := idx.ObjectPath([]ingest.Document{{Link: "x", SourceID: "s"}})
	require.NoError(t, err)
	require.Equal(t, "s/10-abc.jsonl", got)

	failing, err := New(memory.NewBlobStore(), manual.New(time.Unix(10, 0)), Config{Hasher: fixedHasher{err: errors.New("boom")}}, nil)
	require.NoError(t, err)
	require.ErrorContains(t, failing.Store(context.Background(), []ingest.Document{{Link: "x"}}), "boom")
}

func TestIndexerSkipsEmptyBatch(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	idx, err := New(blobs, manual.New(time.Now()), Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Store(context.Background(), nil))
	require.Empty(t, blobs.Paths())
}

func TestIndexerWrapsPutErrors(t *testing.T) {
	t.Parallel()

	idx, err := New(failingBlobs{}, manual.New(time.Now()), Config{}, nil)
	require.NoError(t, err)
	err = idx.Store(context.Background(), []ingest.Document{{ID: "d1", Link: "l", SourceID: "s"}})
	require.ErrorContains(t, err, "bucket unavailable")
}

func TestNewValidatesDependencies(t *testing.T) {
	t.Parallel()

	_, err := New(nil, manual.New(time.Now()), Config{}, nil)
	require.Error(t, err)
	_, err = New(memory.NewBlobStore(), nil, Config{}, nil)
	require.Error(t, err)
}
