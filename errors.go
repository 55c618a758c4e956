package raggo

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineClosed is returned by operations on a closed engine.
	ErrEngineClosed = errors.New("raggo: engine closed")
	// ErrInvalidTopK is returned when a retrieval asks for a non-positive
	// number of results.
	ErrInvalidTopK = errors.New("raggo: top-k must be positive")
	// ErrNilEmbedder is returned by Open when no embedder is supplied.
	ErrNilEmbedder = errors.New("raggo: embedder must not be nil")
)

// ErrContentTooShort reports content rejected before chunking because it is
// below the configured minimum length.
type ErrContentTooShort struct {
	Length int
	Min    int
}

func (e *ErrContentTooShort) Error() string {
	return fmt.Sprintf("raggo: content length %d below minimum %d", e.Length, e.Min)
}
