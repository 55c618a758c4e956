// Package embedder defines the embedding provider interface and adapters.
// The retrieval engine treats embedding as an external capability: any type
// that can turn a batch of texts into fixed-dimension vectors plugs in here.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when Embed is called with no texts.
var ErrEmptyInput = errors.New("embedder: empty input")

// Embedder turns texts into dense vectors. Implementations must return one
// vector per input text, in input order, all with the same dimension.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the width of the vectors this embedder produces.
	Dimension() int
}

// Func adapts a plain function into an Embedder with a fixed dimension.
// Useful for tests and for wrapping providers with no state of their own.
type Func struct {
	Fn  func(ctx context.Context, texts []string) ([][]float32, error)
	Dim int
}

// Embed invokes the wrapped function.
func (f Func) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return f.Fn(ctx, texts)
}

// Dimension returns the configured vector width.
func (f Func) Dimension() int { return f.Dim }

// ValidateBatch checks that a provider response matches the request: one
// vector per text, each with the expected dimension.
func ValidateBatch(vectors [][]float32, texts []string, dim int) error {
	if len(vectors) != len(texts) {
		return fmt.Errorf("embedder: got %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, v := range vectors {
		if len(v) != dim {
			return fmt.Errorf("embedder: vector %d has dimension %d, want %d", i, len(v), dim)
		}
	}
	return nil
}
