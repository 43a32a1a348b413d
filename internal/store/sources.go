package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AddSource registers a URL for monitoring. Re-adding an existing source
// reactivates it and replaces its tags, hint, and check frequency.
func (s *Store) AddSource(ctx context.Context, url string, tags []string, hint string, checkFrequency time.Duration) error {
	if tags == nil {
		tags = []string{}
	}
	if hint == "" {
		hint = "auto"
	}
	hours := int(checkFrequency.Hours())
	if hours < 1 {
		hours = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (url, tags, hint, check_frequency_hours)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (url) DO UPDATE SET
			active = TRUE,
			tags = EXCLUDED.tags,
			hint = EXCLUDED.hint,
			check_frequency_hours = EXCLUDED.check_frequency_hours`,
		url, tags, hint, hours)
	if err != nil {
		return fmt.Errorf("adding source %q: %w", url, err)
	}

	s.logger.Debug("source added", "url", url, "tags", tags)
	return nil
}

// GetSource returns one source by URL, or ErrNotFound.
func (s *Store) GetSource(ctx context.Context, url string) (Source, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT url, active, tags, hint, check_frequency_hours, last_checked, last_modified, added_at
		FROM sources WHERE url = $1`, url)

	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Source{}, fmt.Errorf("source %q: %w", url, ErrNotFound)
	}
	if err != nil {
		return Source{}, fmt.Errorf("getting source %q: %w", url, err)
	}
	return src, nil
}

// ListActiveSources returns all sources currently scheduled for monitoring.
func (s *Store) ListActiveSources(ctx context.Context) ([]Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT url, active, tags, hint, check_frequency_hours, last_checked, last_modified, added_at
		FROM sources WHERE active ORDER BY url`)
	if err != nil {
		return nil, fmt.Errorf("listing active sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source: %w", err)
		}
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing active sources: %w", err)
	}
	return sources, nil
}

// DeactivateSource stops future scheduling for a source. Existing records
// and chunks stay queryable; the source row is never deleted.
func (s *Store) DeactivateSource(ctx context.Context, url string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE sources SET active = FALSE WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("deactivating source %q: %w", url, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source %q: %w", url, ErrNotFound)
	}
	return nil
}

// TouchSourceChecked records a fetch attempt. Called on every outcome,
// including failures, so backoff stays visible in last_checked.
// lastModified is updated only when non-zero (content actually changed).
func (s *Store) TouchSourceChecked(ctx context.Context, url string, checkedAt, lastModified time.Time) error {
	var err error
	if lastModified.IsZero() {
		_, err = s.pool.Exec(ctx,
			`UPDATE sources SET last_checked = $2 WHERE url = $1`, url, checkedAt)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE sources SET last_checked = $2, last_modified = $3 WHERE url = $1`,
			url, checkedAt, lastModified)
	}
	if err != nil {
		return fmt.Errorf("touching source %q: %w", url, err)
	}
	return nil
}

// scanSource maps one sources row; nullable timestamps become zero values.
func scanSource(row pgx.Row) (Source, error) {
	var src Source
	var hours int
	var lastChecked, lastModified *time.Time

	if err := row.Scan(&src.URL, &src.Active, &src.Tags, &src.Hint, &hours, &lastChecked, &lastModified, &src.AddedAt); err != nil {
		return Source{}, err
	}

	src.CheckFrequency = time.Duration(hours) * time.Hour
	if lastChecked != nil {
		src.LastChecked = *lastChecked
	}
	if lastModified != nil {
		src.LastModified = *lastModified
	}
	return src, nil
}
