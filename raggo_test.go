package raggo

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/raggo/blobstore"
	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/codec"
	"github.com/hupe1980/raggo/embedder"
	"github.com/hupe1980/raggo/wal"
)

const testDim = 8

// hashVec derives a deterministic vector from text. Identical texts map to
// identical vectors, so an exact re-query always finds its chunk at
// distance zero.
func hashVec(text string) []float32 {
	v := make([]float32, testDim)
	for i, r := range text {
		v[(i+int(r))%testDim] += float32(r%13) + 1
	}
	return v
}

func newTestEmbedder() embedder.Func {
	return embedder.Func{
		Dim: testDim,
		Fn: func(_ context.Context, texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, t := range texts {
				out[i] = hashVec(t)
			}
			return out, nil
		},
	}
}

func openTestEngine(t *testing.T, dir string, optFns ...func(o *Options)) *Engine {
	t.Helper()
	optFns = append([]func(o *Options){WithLogger(NoopLogger())}, optFns...)
	e, err := Open(dir, newTestEmbedder(), optFns...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// padded returns base padded with filler to clear the minimum content length.
func padded(base string) string {
	filler := " the quick brown fox jumps over the lazy dog again and again"
	for len([]rune(base)) < 64 {
		base += filler
	}
	return base
}

func TestOpenValidation(t *testing.T) {
	_, err := Open(t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrNilEmbedder)

	_, err = Open(t.TempDir(), newTestEmbedder(), WithChunkOptions(func(o *chunker.Options) {
		o.Overlap = o.ChunkSize
	}))
	assert.Error(t, err)
}

func TestIngestAndRetrieve(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())

	content := padded("alpha document about vector retrieval")
	res, err := e.Ingest(ctx, "doc1.txt", content, "en")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.ChunkCount)
	assert.Contains(t, res.Message, "doc1.txt")

	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// An exact re-query finds its own chunk at distance zero.
	results, err := e.Retrieve(ctx, content, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc1_0", results[0].ID)
	assert.Equal(t, content, results[0].Content)
	assert.Equal(t, "en", results[0].SourceLanguage)
	assert.Equal(t, "doc1.txt", results[0].Filename)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.Equal(t, uint32(0), results[0].RowOffset)
	assert.Greater(t, results[0].SimilarityScore, 0.5)
}

func TestIngestContentTooShort(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())

	res, err := e.Ingest(ctx, "tiny.txt", "too short", "en")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.ChunkCount)

	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestIngestEmbedderFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("provider unavailable")
	failing := embedder.Func{
		Dim: testDim,
		Fn: func(context.Context, []string) ([][]float32, error) {
			return nil, boom
		},
	}

	e, err := Open(t.TempDir(), failing, WithLogger(NoopLogger()))
	require.NoError(t, err)
	defer e.Close()

	res, err := e.Ingest(ctx, "doc.txt", padded("some document"), "en")
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Message, "provider unavailable")

	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRetrieveEmptyCorpus(t *testing.T) {
	e := openTestEngine(t, t.TempDir())

	results, err := e.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveEmptyCorpusLogsDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	e, err := Open(t.TempDir(), newTestEmbedder(), WithLogger(logger))
	require.NoError(t, err)
	defer e.Close()

	results, err := e.Retrieve(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Contains(t, buf.String(), "empty corpus")
}

func TestRetrieveInvalidTopK(t *testing.T) {
	e := openTestEngine(t, t.TempDir())

	_, err := e.Retrieve(context.Background(), "anything", 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)
	_, err = e.Retrieve(context.Background(), "anything", -1)
	assert.ErrorIs(t, err, ErrInvalidTopK)
}

func TestRetrieveTopKCappedAtCorpusSize(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir(), WithChunkOptions(func(o *chunker.Options) {
		o.ChunkSize = 16
		o.Overlap = 0
		o.MinLength = 1
	}))

	content := padded("a corpus that splits into several small chunks")
	res, err := e.Ingest(ctx, "doc.txt", content, "en")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Greater(t, res.ChunkCount, 1)

	results, err := e.Retrieve(ctx, "query", res.ChunkCount+10)
	require.NoError(t, err)
	assert.Len(t, results, res.ChunkCount)
}

func TestRetrieveFilters(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())

	english := padded("english text about databases")
	japanese := padded("japanese text about databases")
	res, err := e.Ingest(ctx, "en.txt", english, "en")
	require.NoError(t, err)
	require.True(t, res.Success)
	res, err = e.Ingest(ctx, "ja.txt", japanese, "ja")
	require.NoError(t, err)
	require.True(t, res.Success)

	results, err := e.Retrieve(ctx, english, 10, WithLanguageFilter("ja"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ja.txt", results[0].Filename)

	results, err = e.Retrieve(ctx, japanese, 10, WithFilenameFilter("en.txt"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "en.txt", results[0].Filename)

	results, err = e.Retrieve(ctx, english, 10, WithFilenameFilter("en.txt"), WithLanguageFilter("ja"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDocuments(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())

	_, err := e.Ingest(ctx, "b.txt", padded("second file"), "ja")
	require.NoError(t, err)
	_, err = e.Ingest(ctx, "a.txt", padded("first file"), "en")
	require.NoError(t, err)

	docs, err := e.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a.txt", docs[0].Filename)
	assert.Equal(t, "en", docs[0].Language)
	assert.Equal(t, "b.txt", docs[1].Filename)
	assert.Equal(t, "ja", docs[1].Language)
}

func TestReingestOverwritesByIdentity(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())

	_, err := e.Ingest(ctx, "doc.txt", padded("original version"), "en")
	require.NoError(t, err)

	updated := padded("updated version of the document")
	res, err := e.Ingest(ctx, "doc.txt", updated, "en")
	require.NoError(t, err)
	require.True(t, res.Success)

	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := e.Retrieve(ctx, updated, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, updated, results[0].Content)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())

	_, err := e.Ingest(ctx, "doc.txt", padded("some document"), "en")
	require.NoError(t, err)

	require.NoError(t, e.Reset(ctx))

	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	results, err := e.Retrieve(ctx, "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, results)

	// Row offsets restart from zero after a reset.
	content := padded("fresh document after the wipe")
	_, err = e.Ingest(ctx, "fresh.txt", content, "en")
	require.NoError(t, err)
	results, err = e.Retrieve(ctx, content, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(0), results[0].RowOffset)
}

func TestCloseReopenRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	content := padded("document that must survive a restart")
	_, err := e.Ingest(ctx, "doc.txt", content, "en")
	require.NoError(t, err)

	want, err := e.Retrieve(ctx, content, 3)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	reopened := openTestEngine(t, dir)
	count, err := reopened.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := reopened.Retrieve(ctx, content, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestClosedEngineRejectsOperations(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())
	require.NoError(t, e.Close())

	_, err := e.Ingest(ctx, "doc.txt", padded("content"), "en")
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.Retrieve(ctx, "query", 1)
	assert.ErrorIs(t, err, ErrEngineClosed)
	_, err = e.DocumentCount()
	assert.ErrorIs(t, err, ErrEngineClosed)
	assert.ErrorIs(t, e.Reset(ctx), ErrEngineClosed)

	// Closing twice is fine.
	assert.NoError(t, e.Close())
}

func TestWALRecovery(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// Simulate a crash after the WAL commit but before either store was
	// touched: the log holds the full mutation, the snapshots are absent.
	chunks := []string{
		padded("first chunk recovered from the log"),
		padded("second chunk recovered from the log"),
	}
	vectors := [][]float32{hashVec(chunks[0]), hashVec(chunks[1])}

	w, err := wal.New(filepath.Join(dir, "ingest.wal"))
	require.NoError(t, err)
	_, err = w.Append(ctx, &wal.Entry{
		Type:     wal.OpIngest,
		BaseRow:  0,
		Filename: "doc.txt",
		Language: "en",
		Chunks:   chunks,
		Vectors:  vectors,
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	e := openTestEngine(t, dir)
	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	results, err := e.Retrieve(ctx, chunks[1], 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc_1", results[0].ID)
	assert.Equal(t, chunks[1], results[0].Content)
}

func TestOpenDiscardsCorruptWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ingest.wal"), []byte("garbage header bytes"), 0644))

	e := openTestEngine(t, dir)
	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// The engine is fully usable after discarding the bad log.
	content := padded("document ingested after log discard")
	res, err := e.Ingest(ctx, "doc.txt", content, "en")
	require.NoError(t, err)
	assert.True(t, res.Success)

	results, err := e.Retrieve(ctx, content, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestOpenDiscardsUnreplayableWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	// A committed entry whose base row lies beyond the (absent) snapshot
	// cannot be absorbed; recovery must start empty, not fail.
	chunk := padded("stale chunk from a discarded snapshot era")
	w, err := wal.New(filepath.Join(dir, "ingest.wal"))
	require.NoError(t, err)
	_, err = w.Append(ctx, &wal.Entry{
		Type:     wal.OpIngest,
		BaseRow:  5,
		Filename: "stale.txt",
		Language: "en",
		Chunks:   []string{chunk},
		Vectors:  [][]float32{hashVec(chunk)},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	e := openTestEngine(t, dir)
	count, err := e.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	content := padded("fresh document after the discard")
	res, err := e.Ingest(ctx, "doc.txt", content, "en")
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NoError(t, e.Close())

	// The discarded log stays gone across restarts.
	reopened := openTestEngine(t, dir)
	count, err = reopened.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestCodecOptionReachesWAL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir, WithCodec(codec.JSON{}))
	_, err := e.Ingest(ctx, "doc.txt", padded("codec propagation check"), "en")
	require.NoError(t, err)

	// The log header records the codec name chosen via WithCodec.
	data, err := os.ReadFile(filepath.Join(dir, "ingest.wal"))
	require.NoError(t, err)
	header := string(data[:min(len(data), 32)])
	assert.Contains(t, header, "json")
	assert.NotContains(t, header, "go-json")
}

func TestCorruptSnapshotDiscarded(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	_, err := e.Ingest(ctx, "doc.txt", padded("content to be lost"), "en")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.bin"), []byte("garbage"), 0644))

	reopened := openTestEngine(t, dir)
	count, err := reopened.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestPartialPairDiscarded(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	_, err := e.Ingest(ctx, "doc.txt", padded("content to be lost"), "en")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, "metadata.json")))

	reopened := openTestEngine(t, dir)
	count, err := reopened.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestRetrieveSkipsRowsWithoutMetadata(t *testing.T) {
	ctx := context.Background()
	e := openTestEngine(t, t.TempDir())

	content := padded("document with healthy metadata")
	_, err := e.Ingest(ctx, "doc.txt", content, "en")
	require.NoError(t, err)
	_, err = e.Ingest(ctx, "other.txt", padded("another healthy document"), "en")
	require.NoError(t, err)

	// Drop one entry behind the engine's back to model a divergent row.
	dropped := e.meta.DropOutOfRange(1)
	require.Len(t, dropped, 1)

	results, err := e.Retrieve(ctx, content, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc_0", results[0].ID)
}

func TestBackupRestore(t *testing.T) {
	ctx := context.Background()

	e := openTestEngine(t, t.TempDir())
	content := padded("document that travels through a backup")
	_, err := e.Ingest(ctx, "doc.txt", content, "en")
	require.NoError(t, err)

	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, e.Backup(ctx, store))

	restored := openTestEngine(t, t.TempDir())
	require.NoError(t, restored.Restore(ctx, store))

	count, err := restored.DocumentCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	want, err := e.Retrieve(ctx, content, 1)
	require.NoError(t, err)
	got, err := restored.Retrieve(ctx, content, 1)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRestoreMissingBackup(t *testing.T) {
	e := openTestEngine(t, t.TempDir())

	store, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	assert.ErrorIs(t, e.Restore(context.Background(), store), blobstore.ErrNotFound)
}

func TestBasicMetricsCollector(t *testing.T) {
	ctx := context.Background()
	metrics := &BasicMetricsCollector{}
	e := openTestEngine(t, t.TempDir(), WithMetricsCollector(metrics))

	_, err := e.Ingest(ctx, "doc.txt", padded("metrics test document"), "en")
	require.NoError(t, err)
	_, err = e.Retrieve(ctx, "query", 1)
	require.NoError(t, err)

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.IngestCount)
	assert.Equal(t, int64(0), stats.IngestErrors)
	assert.Equal(t, int64(1), stats.RetrieveCount)
	assert.GreaterOrEqual(t, stats.SnapshotCount, int64(1))
}
