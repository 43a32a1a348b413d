package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertQueryLog appends one answered question to the query log.
func (s *Store) InsertQueryLog(ctx context.Context, entry QueryLog) error {
	citations, err := json.Marshal(entry.Citations)
	if err != nil {
		return fmt.Errorf("marshaling citations: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO query_logs (id, question, answer, citations, confidence, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.ID, entry.Question, entry.Answer, citations,
		entry.Confidence, entry.Latency.Milliseconds(), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting query log: %w", err)
	}
	return nil
}

// SetQueryFeedback records a user feedback score (1-5) on a logged answer.
func (s *Store) SetQueryFeedback(ctx context.Context, id string, score int) error {
	if score < 1 || score > 5 {
		return fmt.Errorf("feedback score %d out of range [1, 5]", score)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE query_logs SET feedback = $2 WHERE id = $1`, id, score)
	if err != nil {
		return fmt.Errorf("setting feedback on %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("query log %s: %w", id, ErrNotFound)
	}
	return nil
}
