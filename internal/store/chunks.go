package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// SearchFilter restricts vector search to a subset of current records.
// Zero values mean "no restriction".
type SearchFilter struct {
	SourceURL string
	Tag       string
	Since     time.Time
	Until     time.Time
}

// InsertChunks upserts a record's chunks in one batch, keyed by chunk
// fingerprint. Chunks of a staged (non-current) record are invisible to
// SearchChunks until the record is promoted.
func (s *Store) InsertChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	batch := newChunkBatch(chunks)
	br := s.pool.SendBatch(ctx, batch)
	defer func() {
		if err := br.Close(); err != nil {
			s.logger.Warn("closing chunk batch", "error", err)
		}
	}()

	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("inserting chunk batch: %w", err)
		}
	}

	s.logger.Debug("chunks inserted", "count", len(chunks), "record_id", chunks[0].RecordID)
	return nil
}

// SearchChunks returns up to k chunks of current records ranked by cosine
// similarity to the query embedding, ties broken by the owning record's
// recency. Only the current generation of each source is visible.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, k int, filter SearchFilter) ([]RetrievedChunk, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	// Vector search has its own timeout so a slow scan cannot stall queries.
	searchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var since, until *time.Time
	if !filter.Since.IsZero() {
		since = &filter.Since
	}
	if !filter.Until.IsZero() {
		until = &filter.Until
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(searchCtx, `
		SELECT c.fingerprint, c.record_id, c.seq, c.content,
		       1 - (c.embedding <=> $1) AS similarity,
		       r.source_url, r.title, r.retrieved_at
		FROM chunks c
		JOIN content_records r ON r.id = c.record_id
		JOIN sources s ON s.url = r.source_url
		WHERE r.is_current
		  AND ($2 = '' OR r.source_url = $2)
		  AND ($3 = '' OR $3 = ANY(s.tags))
		  AND ($4::timestamptz IS NULL OR r.retrieved_at >= $4)
		  AND ($5::timestamptz IS NULL OR r.retrieved_at <= $5)
		ORDER BY c.embedding <=> $1 ASC, r.retrieved_at DESC
		LIMIT $6`,
		vec, filter.SourceURL, filter.Tag, since, until, k)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	results := make([]RetrievedChunk, 0, k)
	for rows.Next() {
		var rc RetrievedChunk
		if err := rows.Scan(&rc.Chunk.Fingerprint, &rc.Chunk.RecordID, &rc.Chunk.Seq,
			&rc.Chunk.Content, &rc.Similarity, &rc.SourceURL, &rc.Title, &rc.RetrievedAt); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		results = append(results, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	return results, nil
}

// newChunkBatch builds the upsert batch for InsertChunks.
func newChunkBatch(chunks []Chunk) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks (fingerprint, record_id, seq, content, embedding)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (fingerprint) DO UPDATE SET
				record_id = EXCLUDED.record_id,
				seq = EXCLUDED.seq,
				content = EXCLUDED.content,
				embedding = EXCLUDED.embedding`,
			c.Fingerprint, c.RecordID, c.Seq, c.Content, pgvector.NewVector(c.Embedding))
	}
	return batch
}

// CountSourceChunks returns the number of currently-indexed chunks for a
// source (its current generation only).
func (s *Store) CountSourceChunks(ctx context.Context, sourceURL string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM chunks c
		JOIN content_records r ON r.id = c.record_id
		WHERE r.is_current AND r.source_url = $1`, sourceURL).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for %q: %w", sourceURL, err)
	}
	return n, nil
}
