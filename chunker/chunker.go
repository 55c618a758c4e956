// Package chunker splits raw document text into overlapping fixed-size windows.
//
// Chunking is a pure function of its inputs: the same text and options always
// produce the same sequence of chunks, in document order.
package chunker

import "fmt"

// Options contains configuration options for chunking.
type Options struct {
	// ChunkSize is the window length in code points.
	ChunkSize int

	// Overlap is the number of code points shared with the previous window.
	// It must be strictly less than ChunkSize.
	Overlap int

	// MinLength is the minimum meaningful chunk length. Candidate chunks
	// shorter than this are discarded, which filters trailing fragments.
	MinLength int
}

// DefaultOptions contains the default chunking configuration.
var DefaultOptions = Options{
	ChunkSize: 512,
	Overlap:   50,
	MinLength: 50,
}

// Validate checks the option invariants.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunker: chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.Overlap < 0 || o.Overlap >= o.ChunkSize {
		return fmt.Errorf("chunker: overlap must be in [0, chunk size), got %d for chunk size %d", o.Overlap, o.ChunkSize)
	}
	if o.MinLength < 0 {
		return fmt.Errorf("chunker: min length must not be negative, got %d", o.MinLength)
	}
	return nil
}

// Chunk splits text into overlapping windows of ChunkSize code points,
// advancing by ChunkSize-Overlap. Windows shorter than MinLength are dropped.
// Invalid options yield no chunks; callers that need the distinction should
// call Options.Validate first.
func Chunk(text string, optFns ...func(o *Options)) []string {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Validate() != nil {
		return nil
	}

	runes := []rune(text)
	step := opts.ChunkSize - opts.Overlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		if end-start >= opts.MinLength {
			chunks = append(chunks, string(runes[start:end]))
		}
	}
	return chunks
}
