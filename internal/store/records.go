package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CurrentFingerprint returns the fingerprint of the source's current
// content record. ok is false when the source has never been indexed.
func (s *Store) CurrentFingerprint(ctx context.Context, sourceURL string) (fingerprint string, ok bool, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT fingerprint FROM content_records
		WHERE source_url = $1 AND is_current`, sourceURL).Scan(&fingerprint)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading current fingerprint for %q: %w", sourceURL, err)
	}
	return fingerprint, true, nil
}

// InsertRecord stores a new content record in staged (non-current) state.
// The record becomes visible to retrieval only after PromoteRecord.
func (s *Store) InsertRecord(ctx context.Context, rec ContentRecord) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling record metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO content_records
			(id, source_url, title, content, fingerprint, word_count, retrieved_at, metadata, is_current)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
		rec.ID, rec.SourceURL, rec.Title, rec.Content, rec.Fingerprint,
		rec.WordCount, rec.RetrievedAt, meta)
	if err != nil {
		return fmt.Errorf("inserting record for %q: %w", rec.SourceURL, err)
	}
	return nil
}

// PromoteRecord atomically makes recordID the source's current record.
// The demote and promote happen in one transaction, so concurrent searches
// see either the old generation or the new one, never neither nor both.
// Returns the demoted record's ID (uuid.Nil when the source was new).
func (s *Store) PromoteRecord(ctx context.Context, sourceURL string, recordID uuid.UUID) (uuid.UUID, error) {
	var previous uuid.UUID

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE content_records SET is_current = FALSE
			WHERE source_url = $1 AND is_current
			RETURNING id`, sourceURL).Scan(&previous)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("demoting current record: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE content_records SET is_current = TRUE
			WHERE id = $1 AND source_url = $2`, recordID, sourceURL)
		if err != nil {
			return fmt.Errorf("promoting record %s: %w", recordID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("record %s for %q: %w", recordID, sourceURL, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	return previous, nil
}

// DeleteRecordChunks retires all chunks of one record. Run after a promote
// so the old generation stays queryable until the swap is committed.
func (s *Store) DeleteRecordChunks(ctx context.Context, recordID uuid.UUID) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE record_id = $1`, recordID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks of record %s: %w", recordID, err)
	}
	return tag.RowsAffected(), nil
}

// CountRecordChunks returns the number of chunks stored for a record.
// The indexer compares it against the staged chunk count before promoting
// a generation.
func (s *Store) CountRecordChunks(ctx context.Context, recordID uuid.UUID) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM chunks WHERE record_id = $1`, recordID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting chunks of record %s: %w", recordID, err)
	}
	return n, nil
}

// PruneRecords deletes non-current records retrieved before the horizon.
// Chunk rows cascade with their records. Current records are kept
// regardless of age so a quiet source never loses its content.
func (s *Store) PruneRecords(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM content_records
		WHERE NOT is_current AND retrieved_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("pruning records: %w", err)
	}

	if n := tag.RowsAffected(); n > 0 {
		s.logger.Info("pruned old content records", "count", n, "horizon", olderThan)
		return n, nil
	}
	return 0, nil
}

// RecordsSince returns records retrieved at or after the given time,
// newest first, optionally filtered by topic (content substring or source
// tag). Used by the summarizers.
func (s *Store) RecordsSince(ctx context.Context, since time.Time, topic string) ([]ContentRecord, error) {
	query := `
		SELECT r.id, r.source_url, r.title, r.content, r.fingerprint,
		       r.word_count, r.retrieved_at, r.metadata, r.is_current
		FROM content_records r
		JOIN sources s ON s.url = r.source_url
		WHERE r.is_current AND r.retrieved_at >= $1`
	args := []any{since}

	if topic != "" {
		query += ` AND (r.content ILIKE '%' || $2 || '%' OR $2 = ANY(s.tags))`
		args = append(args, topic)
	}
	query += ` ORDER BY r.retrieved_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing records since %s: %w", since, err)
	}
	defer rows.Close()

	var records []ContentRecord
	for rows.Next() {
		var rec ContentRecord
		var meta []byte
		if err := rows.Scan(&rec.ID, &rec.SourceURL, &rec.Title, &rec.Content,
			&rec.Fingerprint, &rec.WordCount, &rec.RetrievedAt, &meta, &rec.IsCurrent); err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			s.logger.Warn("failed to parse record metadata", "record_id", rec.ID, "error", err)
			rec.Metadata = map[string]string{}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing records since %s: %w", since, err)
	}
	return records, nil
}
