// Package index builds the searchable representation of fetched content:
// chunking, embedding, and the atomic generation swap that replaces a
// source's previous chunks with its new ones.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/veillehq/veille/internal/ledger"
	"github.com/veillehq/veille/internal/store"
)

// embedBatchSize bounds how many chunks go into one embedding request.
const embedBatchSize = 16

// embedRetries bounds retries per embedding batch on transient API errors.
const embedRetries = 3

// ErrIndexInconsistent reports a chunk/record mismatch detected before the
// generation swap. The run fails with the old generation still current, so
// the next cycle re-indexes the source from scratch.
var ErrIndexInconsistent = errors.New("index inconsistency detected")

// RecordStore is the persistence surface the indexer needs.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec store.ContentRecord) error
	InsertChunks(ctx context.Context, chunks []store.Chunk) error
	CountRecordChunks(ctx context.Context, recordID uuid.UUID) (int, error)
	PromoteRecord(ctx context.Context, sourceURL string, recordID uuid.UUID) (uuid.UUID, error)
	DeleteRecordChunks(ctx context.Context, recordID uuid.UUID) (int64, error)
	PruneRecords(ctx context.Context, olderThan time.Time) (int64, error)
}

// Document is one normalized payload ready for indexing.
type Document struct {
	SourceURL   string
	Title       string
	Text        string
	Fingerprint string
	Metadata    map[string]string
	RetrievedAt time.Time
}

// Indexer chunks, embeds, and stores documents.
//
// A new generation becomes visible only after all of its chunks are stored:
// the record is inserted staged, its chunks follow, and a single transaction
// flips the current generation. Retrieval never sees a half-indexed source.
type Indexer struct {
	store    RecordStore
	embedder ai.Embedder
	chunker  *Chunker
	limiter  *rate.Limiter
	logger   *slog.Logger
}

// New creates an Indexer. The limiter paces embedding API calls; pass nil
// to disable pacing.
func New(recordStore RecordStore, embedder ai.Embedder, chunker *Chunker, limiter *rate.Limiter, logger *slog.Logger) *Indexer {
	return &Indexer{
		store:    recordStore,
		embedder: embedder,
		chunker:  chunker,
		limiter:  limiter,
		logger:   logger,
	}
}

// Index stores doc as the new current generation of its source and returns
// the new record ID. The previous generation's chunks are deleted after the
// swap; a failure there is logged and left to pruning, the swap itself has
// already committed.
func (ix *Indexer) Index(ctx context.Context, doc Document) (uuid.UUID, error) {
	pieces := ix.chunker.Split(doc.Text)
	if len(pieces) == 0 {
		return uuid.Nil, fmt.Errorf("indexing %s: no chunks produced", doc.SourceURL)
	}

	embeddings, err := ix.embedAll(ctx, pieces)
	if err != nil {
		return uuid.Nil, fmt.Errorf("indexing %s: %w", doc.SourceURL, err)
	}

	recordID := uuid.New()
	rec := store.ContentRecord{
		ID:          recordID,
		SourceURL:   doc.SourceURL,
		Title:       doc.Title,
		Content:     doc.Text,
		Fingerprint: doc.Fingerprint,
		WordCount:   len(strings.Fields(doc.Text)),
		RetrievedAt: doc.RetrievedAt,
		Metadata:    doc.Metadata,
	}
	if err := ix.store.InsertRecord(ctx, rec); err != nil {
		return uuid.Nil, fmt.Errorf("indexing %s: %w", doc.SourceURL, err)
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = store.Chunk{
			Fingerprint: ledger.ChunkFingerprint(doc.Fingerprint, i),
			RecordID:    recordID,
			Seq:         i,
			Content:     piece,
			Embedding:   embeddings[i],
		}
	}
	if err := ix.store.InsertChunks(ctx, chunks); err != nil {
		return uuid.Nil, fmt.Errorf("indexing %s: %w", doc.SourceURL, err)
	}

	// Verify the staged generation is complete before making it visible.
	stored, err := ix.store.CountRecordChunks(ctx, recordID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("indexing %s: %w", doc.SourceURL, err)
	}
	if stored != len(chunks) {
		return uuid.Nil, fmt.Errorf("indexing %s: %w: stored %d of %d chunks",
			doc.SourceURL, ErrIndexInconsistent, stored, len(chunks))
	}

	previousID, err := ix.store.PromoteRecord(ctx, doc.SourceURL, recordID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("promoting %s: %w", doc.SourceURL, err)
	}

	if previousID != uuid.Nil {
		if _, err := ix.store.DeleteRecordChunks(ctx, previousID); err != nil {
			ix.logger.Warn("failed to delete retired chunks, pruning will collect them",
				"source", doc.SourceURL,
				"record_id", previousID,
				"error", err)
		}
	}

	ix.logger.Info("indexed source",
		"source", doc.SourceURL,
		"chunks", len(chunks),
		"words", rec.WordCount)
	return recordID, nil
}

// Prune removes non-current records older than the horizon.
func (ix *Indexer) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	n, err := ix.store.PruneRecords(ctx, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning records: %w", err)
	}
	if n > 0 {
		ix.logger.Info("pruned old content records", "removed", n)
	}
	return n, nil
}

// embedAll embeds all pieces in bounded batches, preserving order.
func (ix *Indexer) embedAll(ctx context.Context, pieces []string) ([][]float32, error) {
	out := make([][]float32, 0, len(pieces))
	for start := 0; start < len(pieces); start += embedBatchSize {
		end := min(start+embedBatchSize, len(pieces))
		batch, err := ix.embedBatch(ctx, pieces[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// embedBatch embeds one batch with rate limiting and transient-error retry.
func (ix *Indexer) embedBatch(ctx context.Context, pieces []string) ([][]float32, error) {
	docs := make([]*ai.Document, len(pieces))
	for i, p := range pieces {
		docs[i] = ai.DocumentFromText(p, nil)
	}
	req := &ai.EmbedRequest{Input: docs}

	var lastErr error
	delay := 500 * time.Millisecond
	for attempt := 0; attempt <= embedRetries; attempt++ {
		if ix.limiter != nil {
			if err := ix.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		resp, err := ix.embedder.Embed(ctx, req)
		if err == nil {
			if len(resp.Embeddings) != len(pieces) {
				return nil, fmt.Errorf("embed returned %d embeddings for %d chunks", len(resp.Embeddings), len(pieces))
			}
			vectors := make([][]float32, len(pieces))
			for i, emb := range resp.Embeddings {
				vectors[i] = emb.Embedding
			}
			return vectors, nil
		}

		lastErr = err
		if !transientEmbedError(err) || attempt == embedRetries {
			break
		}
		ix.logger.Debug("retrying embedding batch",
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("embed canceled: %w", ctx.Err())
		case <-time.After(delay):
			delay = min(delay*2, 10*time.Second)
		}
	}
	return nil, fmt.Errorf("embed failed: %w", lastErr)
}

// transientEmbedError matches transient failure substrings. The embedding
// SDK does not expose typed errors for rate limits or server faults.
func transientEmbedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"rate limit", "quota", "429", "500", "502", "503", "504", "unavailable", "timeout", "connection reset"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
