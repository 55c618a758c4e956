package raggo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/raggo/blobstore"
	"github.com/hupe1980/raggo/chunker"
	"github.com/hupe1980/raggo/embedder"
	"github.com/hupe1980/raggo/index/flat"
	"github.com/hupe1980/raggo/metadata"
	"github.com/hupe1980/raggo/persistence"
	"github.com/hupe1980/raggo/wal"
)

// IngestResult reports the outcome of an ingest. Operational failures (an
// unreachable embedder, content too short, a full disk) are reported here
// with Success false rather than as an error; the error return of Ingest is
// reserved for a closed engine and context cancellation.
type IngestResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ChunkCount int    `json:"chunk_count"`
}

// ScoredResult is one retrieval hit: a chunk joined with its metadata and
// scored by similarity to the query.
type ScoredResult struct {
	ID              string  `json:"id"`
	Content         string  `json:"content"`
	SimilarityScore float64 `json:"similarity_score"`
	SourceLanguage  string  `json:"source_language"`
	Filename        string  `json:"filename"`
	ChunkIndex      int     `json:"chunk_index"`
	RowOffset       uint32  `json:"row_offset"`
	Distance        float32 `json:"distance"`
}

// RetrieveOptions narrows a retrieval to a subset of the corpus.
type RetrieveOptions struct {
	// Filename restricts results to chunks from one source file.
	Filename string
	// Language restricts results to chunks with one source language.
	Language string
}

// WithFilenameFilter restricts retrieval to chunks from the given file.
func WithFilenameFilter(filename string) func(o *RetrieveOptions) {
	return func(o *RetrieveOptions) {
		o.Filename = filename
	}
}

// WithLanguageFilter restricts retrieval to chunks with the given language.
func WithLanguageFilter(language string) func(o *RetrieveOptions) {
	return func(o *RetrieveOptions) {
		o.Language = language
	}
}

// Engine is the retrieval engine: chunker, embedder, vector index, and
// metadata store behind one API. It is safe for concurrent use; ingest takes
// an exclusive lock for its full duration, retrievals share a read lock.
type Engine struct {
	mu     sync.RWMutex
	opts   Options
	dir    string
	emb    embedder.Embedder
	idx    *flat.Flat
	meta   *metadata.Store
	log    *wal.WAL
	pair   persistence.Pair
	closed bool
}

// Open creates or reopens an engine rooted at dir. Existing snapshots are
// loaded, the write-ahead log is replayed, and any divergence between the
// two stores is repaired before the engine accepts operations.
func Open(dir string, emb embedder.Embedder, optFns ...func(o *Options)) (*Engine, error) {
	if emb == nil {
		return nil, ErrNilEmbedder
	}

	opts := DefaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NoopMetricsCollector{}
	}
	if err := opts.Chunk.Validate(); err != nil {
		return nil, err
	}
	if opts.WAL.Codec == nil {
		opts.WAL.Codec = opts.Codec
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("raggo: create data directory: %w", err)
	}

	idx, err := flat.New(func(o *flat.Options) { o.Dimension = emb.Dimension() })
	if err != nil {
		return nil, err
	}

	e := &Engine{
		opts: opts,
		dir:  dir,
		emb:  emb,
		idx:  idx,
		meta: metadata.New(opts.Codec),
		pair: persistence.NewPair(dir),
	}

	ctx := context.Background()

	// Snapshot pair first. Any load failure (partial pair, corruption)
	// discards the snapshots; the WAL may still recover recent state.
	complete, partial, err := e.pair.Exists()
	if err != nil {
		return nil, err
	}
	if complete || partial {
		if err := e.pair.Load(ctx,
			func(r io.Reader) error { return e.idx.Load(ctx, r) },
			func(r io.Reader) error { return e.meta.Load(ctx, r) },
		); err != nil {
			opts.Logger.ErrorContext(ctx, "snapshot load failed, discarding",
				"dir", dir,
				"error", err,
			)
			if err := e.pair.Remove(); err != nil {
				return nil, err
			}
			e.idx.Reset()
			e.meta.Clear()
		}
	}

	// An unreadable log is discarded like an unreadable snapshot: log at
	// error, drop the file, start over.
	walOpts := opts.WAL
	walPath := filepath.Join(dir, opts.WALFileName)
	e.log, err = wal.New(walPath, func(o *wal.Options) { *o = walOpts })
	if errors.Is(err, wal.ErrCorruptHeader) {
		opts.Logger.ErrorContext(ctx, "write-ahead log unreadable, discarding",
			"path", walPath,
			"error", err,
		)
		if err := os.Remove(walPath); err != nil {
			return nil, err
		}
		e.log, err = wal.New(walPath, func(o *wal.Options) { *o = walOpts })
	}
	if err != nil {
		return nil, err
	}

	if err := e.recover(ctx); err != nil {
		_ = e.log.Close()
		return nil, err
	}

	return e, nil
}

// recover replays the WAL over the loaded snapshots, repairs any divergence
// between index and metadata, and checkpoints once the result is persisted.
func (e *Engine) recover(ctx context.Context) error {
	start := time.Now()

	replayed := 0
	replayErr := e.log.Replay(ctx, func(entry wal.Entry) error {
		switch entry.Type {
		case wal.OpIngest:
			if err := e.idx.ApplyAppend(ctx, entry.BaseRow, entry.Vectors); err != nil {
				return err
			}
			for i, chunk := range entry.Chunks {
				e.meta.Put(metadata.DocumentID(entry.Filename, i), metadata.Entry{
					Filename:   entry.Filename,
					ChunkIndex: i,
					Content:    chunk,
					Language:   entry.Language,
					Row:        entry.BaseRow + uint32(i),
				})
			}
		case wal.OpReset:
			e.idx.Reset()
			e.meta.Clear()
		}
		replayed++
		return nil
	})

	e.opts.Metrics.RecordRecovery(replayed, time.Since(start), replayErr)

	repaired := false
	if replayErr != nil {
		// A log the stores cannot absorb (stale after a discarded
		// snapshot, or inconsistent with the loaded state) is dropped
		// rather than leaving the engine unopenable.
		e.opts.Logger.LogRecovery(ctx, replayed, replayErr)
		e.opts.Logger.ErrorContext(ctx, "discarding unreplayable log, starting empty",
			"entries_replayed", replayed,
			"error", replayErr,
		)
		e.idx.Reset()
		e.meta.Clear()
		repaired = true
	}

	// Repair: the index must hold exactly the rows metadata references.
	watermark := 0
	if maxRow, ok := e.meta.MaxRow(); ok {
		watermark = int(maxRow) + 1
	}
	if e.idx.Count() > watermark {
		e.opts.Logger.WarnContext(ctx, "truncating orphaned index rows",
			"count", e.idx.Count(),
			"watermark", watermark,
		)
		e.idx.Truncate(watermark)
		repaired = true
	}
	if dropped := e.meta.DropOutOfRange(uint32(e.idx.Count())); len(dropped) > 0 {
		e.opts.Logger.WarnContext(ctx, "dropping metadata without index rows",
			"ids", dropped,
		)
		repaired = true
	}

	if replayed > 0 || repaired {
		if err := e.save(ctx); err != nil {
			return err
		}
		if err := e.log.Checkpoint(ctx); err != nil {
			return err
		}
	}
	if replayErr == nil && replayed > 0 {
		e.opts.Logger.LogRecovery(ctx, replayed, nil)
	}
	return nil
}

// save writes the snapshot pair. Callers hold the write lock (or are still
// inside Open).
func (e *Engine) save(ctx context.Context) error {
	start := time.Now()
	err := e.pair.Save(ctx,
		func(w io.Writer) error { return e.idx.Save(ctx, w) },
		func(w io.Writer) error { return e.meta.Save(ctx, w) },
	)
	e.opts.Metrics.RecordSnapshot(time.Since(start), err)
	e.opts.Logger.LogSnapshot(ctx, e.dir, err)
	return err
}

func (e *Engine) failIngest(ctx context.Context, filename string, start time.Time, cause error) (IngestResult, error) {
	e.opts.Metrics.RecordIngest(0, time.Since(start), cause)
	e.opts.Logger.LogIngest(ctx, filename, 0, cause)
	return IngestResult{Success: false, Message: cause.Error()}, nil
}

// Ingest chunks content, embeds the chunks, and appends them to the index
// and the metadata store. The mutation is logged and synced before either
// store is touched, so a crash mid-ingest is recovered on the next Open.
// Re-ingesting a filename overwrites its chunk metadata by identity.
func (e *Engine) Ingest(ctx context.Context, filename, content, language string) (IngestResult, error) {
	if err := ctx.Err(); err != nil {
		return IngestResult{}, err
	}

	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return IngestResult{}, ErrEngineClosed
	}

	content = strings.TrimSpace(content)
	if n := len([]rune(content)); n < e.opts.MinContentLength {
		return e.failIngest(ctx, filename, start, &ErrContentTooShort{Length: n, Min: e.opts.MinContentLength})
	}

	chunkOpts := e.opts.Chunk
	chunks := chunker.Chunk(content, func(o *chunker.Options) { *o = chunkOpts })
	if len(chunks) == 0 {
		return e.failIngest(ctx, filename, start, fmt.Errorf("raggo: no chunks produced from %s", filename))
	}

	vectors, err := e.emb.Embed(ctx, chunks)
	if err != nil {
		if ctx.Err() != nil {
			return IngestResult{}, ctx.Err()
		}
		return e.failIngest(ctx, filename, start, fmt.Errorf("raggo: embed failed: %w", err))
	}
	if err := embedder.ValidateBatch(vectors, chunks, e.idx.Dimension()); err != nil {
		return e.failIngest(ctx, filename, start, err)
	}

	base := uint32(e.idx.Count())
	if _, err := e.log.Append(ctx, &wal.Entry{
		Type:     wal.OpIngest,
		BaseRow:  base,
		Filename: filename,
		Language: language,
		Chunks:   chunks,
		Vectors:  vectors,
	}); err != nil {
		return e.failIngest(ctx, filename, start, fmt.Errorf("raggo: log append: %w", err))
	}

	// The mutation is durable from here on. Apply it fully even if the
	// caller's context dies: a half-applied state would only force a
	// replay on the next open.
	applyCtx := context.Background()

	if err := e.idx.ApplyAppend(applyCtx, base, vectors); err != nil {
		return e.failIngest(ctx, filename, start, fmt.Errorf("raggo: apply vectors: %w", err))
	}
	for i, chunk := range chunks {
		e.meta.Put(metadata.DocumentID(filename, i), metadata.Entry{
			Filename:   filename,
			ChunkIndex: i,
			Content:    chunk,
			Language:   language,
			Row:        base + uint32(i),
		})
	}

	// Snapshot failure is not fatal: the WAL still holds the mutation, so
	// the checkpoint is skipped and recovery replays it.
	if err := e.save(applyCtx); err == nil {
		if err := e.log.Checkpoint(applyCtx); err != nil {
			e.opts.Logger.WarnContext(ctx, "checkpoint failed", "error", err)
		}
	}

	e.opts.Metrics.RecordIngest(len(chunks), time.Since(start), nil)
	e.opts.Logger.LogIngest(ctx, filename, len(chunks), nil)

	return IngestResult{
		Success:    true,
		Message:    fmt.Sprintf("Successfully ingested %d chunks from %s", len(chunks), filename),
		ChunkCount: len(chunks),
	}, nil
}

// Retrieve embeds the query and returns the topK most similar chunks joined
// with their metadata, best first. An empty corpus yields an empty result.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, optFns ...func(o *RetrieveOptions)) ([]ScoredResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, ErrInvalidTopK
	}

	var ropts RetrieveOptions
	for _, fn := range optFns {
		fn(&ropts)
	}

	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrEngineClosed
	}

	if e.idx.Count() == 0 {
		e.opts.Metrics.RecordRetrieve(topK, 0, time.Since(start), nil)
		e.opts.Logger.DebugContext(ctx, "retrieve on empty corpus",
			"top_k", topK,
		)
		return []ScoredResult{}, nil
	}

	vectors, err := e.emb.Embed(ctx, []string{query})
	if err != nil {
		e.opts.Metrics.RecordRetrieve(topK, 0, time.Since(start), err)
		e.opts.Logger.LogRetrieve(ctx, topK, 0, err)
		return nil, fmt.Errorf("raggo: embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("raggo: got %d query vectors, want 1", len(vectors))
	}

	var filter func(row uint32) bool
	if rows := e.meta.FilterRows(ropts.Filename, ropts.Language); rows != nil {
		if rows.IsEmpty() {
			e.opts.Metrics.RecordRetrieve(topK, 0, time.Since(start), nil)
			return []ScoredResult{}, nil
		}
		filter = rows.Contains
	}

	hits, err := e.idx.KNNSearch(ctx, vectors[0], topK, filter)
	if err != nil {
		e.opts.Metrics.RecordRetrieve(topK, 0, time.Since(start), err)
		e.opts.Logger.LogRetrieve(ctx, topK, 0, err)
		return nil, err
	}

	results := make([]ScoredResult, 0, len(hits))
	for _, hit := range hits {
		id, entry, ok := e.meta.GetByRow(hit.Row)
		if !ok {
			e.opts.Logger.WarnContext(ctx, "index row has no metadata",
				"row", hit.Row,
			)
			continue
		}
		results = append(results, ScoredResult{
			ID:              id,
			Content:         entry.Content,
			SimilarityScore: 1.0 / (1.0 + float64(hit.Distance)),
			SourceLanguage:  entry.Language,
			Filename:        entry.Filename,
			ChunkIndex:      entry.ChunkIndex,
			RowOffset:       hit.Row,
			Distance:        hit.Distance,
		})
	}

	e.opts.Metrics.RecordRetrieve(topK, len(results), time.Since(start), nil)
	e.opts.Logger.LogRetrieve(ctx, topK, len(results), nil)
	return results, nil
}

// DocumentCount returns the number of chunks in the corpus.
func (e *Engine) DocumentCount() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return 0, ErrEngineClosed
	}
	return e.meta.Count(), nil
}

// Documents returns a per-file summary of the corpus, sorted by filename.
func (e *Engine) Documents() ([]metadata.DocumentInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	return e.meta.Documents(), nil
}

// Reset wipes the corpus: both stores are cleared and row offsets restart
// from zero. The wipe is logged before it is applied.
func (e *Engine) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	if _, err := e.log.Append(ctx, &wal.Entry{Type: wal.OpReset}); err != nil {
		return fmt.Errorf("raggo: log append: %w", err)
	}

	applyCtx := context.Background()
	e.idx.Reset()
	e.meta.Clear()

	if err := e.save(applyCtx); err != nil {
		return err
	}
	return e.log.Checkpoint(applyCtx)
}

// Backup copies the current snapshot pair into the blob store under the
// names "index.bin" and "metadata.json".
func (e *Engine) Backup(ctx context.Context, store blobstore.Store) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return ErrEngineClosed
	}

	var idxBuf, metaBuf bytes.Buffer
	if err := e.idx.Save(ctx, &idxBuf); err != nil {
		return err
	}
	if err := e.meta.Save(ctx, &metaBuf); err != nil {
		return err
	}

	if err := store.Put(ctx, "index.bin", &idxBuf, int64(idxBuf.Len())); err != nil {
		return err
	}
	return store.Put(ctx, "metadata.json", &metaBuf, int64(metaBuf.Len()))
}

// Restore replaces the corpus with a backup made by Backup. The current
// state is swapped out only after both blobs load cleanly.
func (e *Engine) Restore(ctx context.Context, store blobstore.Store) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	idx, err := flat.New(func(o *flat.Options) { o.Dimension = e.emb.Dimension() })
	if err != nil {
		return err
	}
	meta := metadata.New(e.opts.Codec)

	for _, blob := range []struct {
		name string
		load func(io.Reader) error
	}{
		{"index.bin", func(r io.Reader) error { return idx.Load(ctx, r) }},
		{"metadata.json", func(r io.Reader) error { return meta.Load(ctx, r) }},
	} {
		rc, err := store.Get(ctx, blob.name)
		if err != nil {
			return err
		}
		err = blob.load(rc)
		_ = rc.Close()
		if err != nil {
			return err
		}
	}

	e.idx = idx
	e.meta = meta

	applyCtx := context.Background()
	if err := e.save(applyCtx); err != nil {
		return err
	}
	return e.log.Checkpoint(applyCtx)
}

// Close persists the current state and releases the write-ahead log. The
// engine rejects all operations afterwards.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	ctx := context.Background()
	if err := e.save(ctx); err == nil {
		if err := e.log.Checkpoint(ctx); err != nil {
			e.opts.Logger.WarnContext(ctx, "checkpoint failed", "error", err)
		}
	}
	return e.log.Close()
}
