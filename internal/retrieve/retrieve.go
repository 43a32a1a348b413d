// Package retrieve answers "what do we already know" by vector search over
// the current chunk generations.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/firebase/genkit/go/ai"

	"github.com/veillehq/veille/internal/store"
)

// ChunkSearcher is the search surface the retriever needs.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, embedding []float32, k int, filter store.SearchFilter) ([]store.RetrievedChunk, error)
}

// Option customizes a single Search call.
type Option func(*searchOptions)

type searchOptions struct {
	topK   int
	filter store.SearchFilter
}

// WithTopK overrides how many chunks are returned.
func WithTopK(k int) Option {
	return func(o *searchOptions) {
		if k > 0 {
			o.topK = k
		}
	}
}

// WithSource restricts results to one source URL.
func WithSource(url string) Option {
	return func(o *searchOptions) { o.filter.SourceURL = url }
}

// WithTag restricts results to sources carrying the tag.
func WithTag(tag string) Option {
	return func(o *searchOptions) { o.filter.Tag = tag }
}

// WithSince restricts results to content retrieved at or after t.
func WithSince(t time.Time) Option {
	return func(o *searchOptions) { o.filter.Since = t }
}

// WithUntil restricts results to content retrieved before t.
func WithUntil(t time.Time) Option {
	return func(o *searchOptions) { o.filter.Until = t }
}

// Retriever embeds questions and searches the chunk index.
type Retriever struct {
	searcher    ChunkSearcher
	embedder    ai.Embedder
	defaultTopK int
	logger      *slog.Logger
}

// New creates a Retriever.
func New(searcher ChunkSearcher, embedder ai.Embedder, defaultTopK int, logger *slog.Logger) *Retriever {
	return &Retriever{
		searcher:    searcher,
		embedder:    embedder,
		defaultTopK: defaultTopK,
		logger:      logger,
	}
}

// Search embeds the question and returns the most similar current chunks,
// best first. Results carry provenance and cosine similarity.
func (r *Retriever) Search(ctx context.Context, question string, opts ...Option) ([]store.RetrievedChunk, error) {
	options := searchOptions{topK: r.defaultTopK}
	for _, opt := range opts {
		opt(&options)
	}

	resp, err := r.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{ai.DocumentFromText(question, nil)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding question: %w", err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("embedding question: no embedding returned")
	}

	chunks, err := r.searcher.SearchChunks(ctx, resp.Embeddings[0].Embedding, options.topK, options.filter)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	r.logger.Debug("retrieved chunks",
		"question_len", len(question),
		"top_k", options.topK,
		"results", len(chunks))
	return chunks, nil
}
