package embedder

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// OpenAIOptions configures the OpenAI embedder.
type OpenAIOptions struct {
	// Model selects the embedding model.
	Model openai.EmbeddingModel
	// BatchSize caps the number of texts per API request.
	BatchSize int
	// MaxConcurrency caps in-flight API requests when a call needs
	// multiple batches.
	MaxConcurrency int
	// RequestsPerSecond throttles API requests. Zero disables throttling.
	RequestsPerSecond float64
}

// OpenAI embeds texts through the OpenAI embeddings API. Large inputs are
// split into batches and requested concurrently under a rate limit.
type OpenAI struct {
	client  *openai.Client
	opts    OpenAIOptions
	limiter *rate.Limiter
	dim     int
}

// NewOpenAI creates an embedder using the given API client. The default
// model is text-embedding-3-small.
func NewOpenAI(client *openai.Client, optFns ...func(o *OpenAIOptions)) (*OpenAI, error) {
	opts := OpenAIOptions{
		Model:          openai.SmallEmbedding3,
		BatchSize:      100,
		MaxConcurrency: 4,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("embedder: batch size must be positive, got %d", opts.BatchSize)
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	dim, err := modelDimension(opts.Model)
	if err != nil {
		return nil, err
	}

	e := &OpenAI{client: client, opts: opts, dim: dim}
	if opts.RequestsPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return e, nil
}

func modelDimension(model openai.EmbeddingModel) (int, error) {
	switch model {
	case openai.SmallEmbedding3, openai.AdaEmbeddingV2:
		return 1536, nil
	case openai.LargeEmbedding3:
		return 3072, nil
	default:
		return 0, fmt.Errorf("embedder: unknown embedding model %q", model)
	}
}

// Dimension returns the vector width of the configured model.
func (e *OpenAI) Dimension() int { return e.dim }

// Embed requests embeddings for all texts, preserving input order.
func (e *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrency)

	for start := 0; start < len(texts); start += e.opts.BatchSize {
		end := min(start+e.opts.BatchSize, len(texts))
		batch := texts[start:end]
		offset := start

		g.Go(func() error {
			if e.limiter != nil {
				if err := e.limiter.Wait(gctx); err != nil {
					return err
				}
			}

			resp, err := e.client.CreateEmbeddings(gctx, openai.EmbeddingRequestStrings{
				Input: batch,
				Model: e.opts.Model,
			})
			if err != nil {
				return fmt.Errorf("embedder: create embeddings: %w", err)
			}
			if len(resp.Data) != len(batch) {
				return fmt.Errorf("embedder: got %d embeddings for %d texts", len(resp.Data), len(batch))
			}

			for _, d := range resp.Data {
				if d.Index < 0 || d.Index >= len(batch) {
					return fmt.Errorf("embedder: embedding index %d out of range", d.Index)
				}
				vec := make([]float32, len(d.Embedding))
				copy(vec, d.Embedding)
				vectors[offset+d.Index] = vec
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if err := ValidateBatch(vectors, texts, e.dim); err != nil {
		return nil, err
	}
	return vectors, nil
}
