// Package flat provides an append-only flat index for vector storage and
// exact nearest-neighbor search.
//
// Rows are identified by their offset: the position at which a vector was
// appended. Offsets are assigned monotonically starting at the index size at
// insertion time and are never reused; only Reset discards them.
package flat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/raggo/distance"
	"github.com/hupe1980/raggo/internal/queue"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("flat: k must be positive")

	// ErrEmptyVector is returned when an empty vector is appended or queried.
	ErrEmptyVector = errors.New("flat: empty vector")

	// ErrNonContiguousAppend is returned by ApplyAppend when the base row
	// would leave a gap in the index.
	ErrNonContiguousAppend = errors.New("flat: non-contiguous append")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// SearchResult represents a single nearest-neighbor match.
type SearchResult struct {
	// Row is the row offset of the matched vector.
	Row uint32

	// Distance is the squared L2 distance between the query and the match.
	Distance float32
}

// Options contains configuration options for the flat index.
type Options struct {
	// Dimension is the fixed vector dimensionality for this index.
	// It must be > 0 and is enforced for all appends and searches.
	Dimension int
}

// indexState holds the published state of the index for lock-free reads.
// The vectors slice and its elements are never mutated after publication.
type indexState struct {
	vectors [][]float32
}

// Flat is an append-only exact-search index over fixed-dimension vectors.
// It publishes immutable state for lock-free concurrent reads; writes are
// serialized by a mutex.
type Flat struct {
	state   atomic.Pointer[indexState]
	writeMu sync.Mutex
	opts    Options
}

// New creates a new flat index. Dimension is required.
func New(optFns ...func(o *Options)) (*Flat, error) {
	opts := Options{}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("flat: dimension must be positive, got %d", opts.Dimension)
	}

	f := &Flat{opts: opts}
	f.state.Store(&indexState{vectors: make([][]float32, 0)})
	return f, nil
}

// Dimension returns the configured vector dimension.
func (f *Flat) Dimension() int { return f.opts.Dimension }

// Count returns the current number of stored vectors.
func (f *Flat) Count() int {
	return len(f.state.Load().vectors)
}

func (f *Flat) validate(vectors [][]float32) error {
	for _, v := range vectors {
		if len(v) == 0 {
			return ErrEmptyVector
		}
		if len(v) != f.opts.Dimension {
			return &ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(v)}
		}
	}
	return nil
}

// Append adds a batch of vectors, assigning each the next row offset in
// order. It returns the base row offset of the batch. The whole batch is
// validated before any mutation, so a dimension mismatch leaves the index
// untouched.
func (f *Flat) Append(ctx context.Context, vectors [][]float32) (uint32, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := f.validate(vectors); err != nil {
		return 0, err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	old := f.state.Load()
	base := uint32(len(old.vectors))

	next := make([][]float32, len(old.vectors), len(old.vectors)+len(vectors))
	copy(next, old.vectors)
	for _, v := range vectors {
		next = append(next, slices.Clone(v))
	}

	f.state.Store(&indexState{vectors: next})
	return base, nil
}

// ApplyAppend appends a batch at an explicit base row offset. It is intended
// for deterministic WAL replay: rows that already exist are skipped, so
// replaying an entry that was partially or fully applied is harmless. A base
// beyond the current count indicates a gap and is rejected.
func (f *Flat) ApplyAppend(ctx context.Context, base uint32, vectors [][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := f.validate(vectors); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	old := f.state.Load()
	count := uint32(len(old.vectors))

	if base > count {
		return fmt.Errorf("%w: base %d beyond count %d", ErrNonContiguousAppend, base, count)
	}

	end := base + uint32(len(vectors))
	if end <= count {
		// Already applied in full.
		return nil
	}

	missing := vectors[count-base:]
	next := make([][]float32, len(old.vectors), int(end))
	copy(next, old.vectors)
	for _, v := range missing {
		next = append(next, slices.Clone(v))
	}

	f.state.Store(&indexState{vectors: next})
	return nil
}

// VectorByRow returns a copy of the vector stored at the given row offset.
func (f *Flat) VectorByRow(row uint32) ([]float32, bool) {
	st := f.state.Load()
	if int(row) >= len(st.vectors) {
		return nil, false
	}
	return slices.Clone(st.vectors[row]), true
}

// Reset discards all stored vectors, returning the index to the empty state.
func (f *Flat) Reset() {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	f.state.Store(&indexState{vectors: make([][]float32, 0)})
}

// Truncate drops all rows at offset n and beyond. It is used by the startup
// repair pass to roll the index back to the last row covered by metadata.
// Truncating beyond the current count is a no-op.
func (f *Flat) Truncate(n int) {
	if n < 0 {
		n = 0
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	old := f.state.Load()
	if n >= len(old.vectors) {
		return
	}
	next := make([][]float32, n)
	copy(next, old.vectors[:n])
	f.state.Store(&indexState{vectors: next})
}

// KNNSearch performs an exact k-nearest-neighbor search by squared Euclidean
// distance. Results are ordered by ascending distance, ties broken by lower
// row offset, and at most min(k, count) long. Searching an empty index
// returns an empty result rather than an error. The optional filter restricts
// the scan to rows it accepts.
//
// Reads are lock-free: the scan runs against the state published at call time
// and is unaffected by concurrent appends.
func (f *Flat) KNNSearch(ctx context.Context, q []float32, k int, filter func(row uint32) bool) ([]SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}

	st := f.state.Load()
	if len(st.vectors) == 0 {
		return nil, nil
	}
	if len(q) != f.opts.Dimension {
		return nil, &ErrDimensionMismatch{Expected: f.opts.Dimension, Actual: len(q)}
	}

	if k > len(st.vectors) {
		k = len(st.vectors)
	}

	top := queue.NewMax(k)
	for row, vec := range st.vectors {
		if filter != nil && !filter(uint32(row)) {
			continue
		}

		cand := queue.Item{Row: uint32(row), Distance: distance.SquaredL2(q, vec)}
		if top.Len() < k {
			top.Push(cand)
			continue
		}
		if worst, _ := top.Top(); queue.Greater(worst, cand) {
			top.Pop()
			top.Push(cand)
		}
	}

	// The max-heap pops worst-first; filling back-to-front yields ascending
	// distance with ties in ascending row order.
	results := make([]SearchResult, top.Len())
	for i := top.Len() - 1; i >= 0; i-- {
		item, _ := top.Pop()
		results[i] = SearchResult{Row: item.Row, Distance: item.Distance}
	}
	return results, nil
}
