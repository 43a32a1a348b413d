// Package ingest orchestrates the per-source content pipeline: fetch,
// normalize, dedupe, index. One run per source at a time; a cycle runs
// sources in parallel under a configurable bound.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/fetch"
	"github.com/veillehq/veille/internal/index"
	"github.com/veillehq/veille/internal/ledger"
	"github.com/veillehq/veille/internal/normalize"
	"github.com/veillehq/veille/internal/store"
)

// State is a phase of one source run.
type State int

const (
	StatePending State = iota
	StateFetching
	StateNormalizing
	StateDeduping
	StateIndexing
	StateDone
	StateFailed
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateFetching:
		return "FETCHING"
	case StateNormalizing:
		return "NORMALIZING"
	case StateDeduping:
		return "DEDUPING"
	case StateIndexing:
		return "INDEXING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Status is the outcome of one source run.
type Status int

const (
	// StatusIndexed means new or changed content was indexed.
	StatusIndexed Status = iota
	// StatusUnchanged means the fingerprint (or a 304) matched the current
	// generation; nothing was re-indexed.
	StatusUnchanged
	// StatusIndexPage means the page was a post listing; its links were
	// scheduled instead of its body.
	StatusIndexPage
	// StatusBusy means another run holds this source; nothing was done.
	StatusBusy
	// StatusFailed means the run stopped with an error. Existing chunks are
	// untouched.
	StatusFailed
)

// String implements fmt.Stringer for log output.
func (s Status) String() string {
	switch s {
	case StatusIndexed:
		return "indexed"
	case StatusUnchanged:
		return "unchanged"
	case StatusIndexPage:
		return "index_page"
	case StatusBusy:
		return "busy"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome reports one finished source run.
type Outcome struct {
	SourceURL string
	Status    Status
	State     State
	RecordID  uuid.UUID
	FollowUps int
	Err       error
}

// SourceStore is the source persistence surface the orchestrator needs.
type SourceStore interface {
	ListActiveSources(ctx context.Context) ([]store.Source, error)
	AddSource(ctx context.Context, url string, tags []string, hint string, checkFrequency time.Duration) error
	TouchSourceChecked(ctx context.Context, url string, checkedAt, lastModified time.Time) error
}

// Fetcher retrieves pages.
type Fetcher interface {
	Fetch(ctx context.Context, url string, lastModified time.Time) (fetch.Page, error)
}

// Normalizer converts payloads to canonical text.
type Normalizer interface {
	Normalize(sourceURL, contentType, hint string, raw []byte) (normalize.Result, error)
}

// Deduper decides whether content changed since the current generation.
type Deduper interface {
	Decide(ctx context.Context, sourceURL, text string) (ledger.Decision, string, error)
}

// DocumentIndexer stores a document as the new current generation.
type DocumentIndexer interface {
	Index(ctx context.Context, doc index.Document) (uuid.UUID, error)
}

// Orchestrator drives source runs.
type Orchestrator struct {
	sources    SourceStore
	fetcher    Fetcher
	normalizer Normalizer
	deduper    Deduper
	indexer    DocumentIndexer
	cfg        config.IngestConfig
	logger     *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// New creates an Orchestrator.
func New(sources SourceStore, fetcher Fetcher, normalizer Normalizer, deduper Deduper, indexer DocumentIndexer, cfg config.IngestConfig, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sources:    sources,
		fetcher:    fetcher,
		normalizer: normalizer,
		deduper:    deduper,
		indexer:    indexer,
		cfg:        cfg,
		logger:     logger,
		inFlight:   make(map[string]struct{}),
	}
}

// RunCycle ingests every active source due for a check. Sources run in
// parallel up to the configured bound; one source failing never stops the
// cycle. Returned outcomes cover every attempted source.
func (o *Orchestrator) RunCycle(ctx context.Context) ([]Outcome, error) {
	sources, err := o.sources.ListActiveSources(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingest cycle: %w", err)
	}

	now := time.Now().UTC()
	due := make([]store.Source, 0, len(sources))
	for _, src := range sources {
		if src.LastChecked.IsZero() || now.Sub(src.LastChecked) >= src.CheckFrequency {
			due = append(due, src)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}

	var mu sync.Mutex
	outcomes := make([]Outcome, 0, len(due))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, o.cfg.MaxParallelSources))
	for _, src := range due {
		g.Go(func() error {
			out := o.IngestSource(gctx, src)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("ingest cycle finished", "sources", len(due))
	return outcomes, nil
}

// IngestSource runs the full pipeline for one source. At most one run per
// source is active at a time; a second caller gets StatusBusy immediately.
// last_checked is updated on every outcome, including failures. A failed
// run never retires the source's existing chunks.
func (o *Orchestrator) IngestSource(ctx context.Context, src store.Source) Outcome {
	if !o.acquire(src.URL) {
		return Outcome{SourceURL: src.URL, Status: StatusBusy, State: StatePending}
	}
	defer o.release(src.URL)

	out := o.run(ctx, src)

	lastModified := time.Time{}
	if out.Status == StatusIndexed {
		lastModified = time.Now().UTC()
	}
	if err := o.sources.TouchSourceChecked(ctx, src.URL, time.Now().UTC(), lastModified); err != nil {
		o.logger.Warn("failed to update last_checked", "source", src.URL, "error", err)
	}

	if out.Err != nil {
		o.logger.Error("source run failed",
			"source", src.URL,
			"state", out.State,
			"error", out.Err)
	} else {
		o.logger.Info("source run finished",
			"source", src.URL,
			"status", out.Status,
			"follow_ups", out.FollowUps)
	}
	return out
}

// run executes the state machine for one source.
func (o *Orchestrator) run(ctx context.Context, src store.Source) Outcome {
	out := Outcome{SourceURL: src.URL, State: StatePending}

	out.State = StateFetching
	page, err := o.fetcher.Fetch(ctx, src.URL, src.LastModified)
	if errors.Is(err, fetch.ErrNotModified) {
		out.Status = StatusUnchanged
		out.State = StateDone
		return out
	}
	if err != nil {
		out.Status = StatusFailed
		out.State = StateFailed
		out.Err = err
		return out
	}

	out.State = StateNormalizing
	res, err := o.normalizer.Normalize(src.URL, page.ContentType, src.Hint, page.Body)
	if err != nil {
		out.Status = StatusFailed
		out.State = StateFailed
		out.Err = err
		return out
	}
	if res.Degraded {
		o.logger.Warn("content extraction degraded", "source", src.URL)
	}

	if res.Class == normalize.ClassIndex {
		out.FollowUps = o.scheduleFollowUps(ctx, src, res.Links)
		out.Status = StatusIndexPage
		out.State = StateDone
		return out
	}

	out.State = StateDeduping
	decision, fingerprint, err := o.deduper.Decide(ctx, src.URL, res.Text)
	if err != nil {
		out.Status = StatusFailed
		out.State = StateFailed
		out.Err = err
		return out
	}
	if decision == ledger.DecisionUnchanged {
		out.Status = StatusUnchanged
		out.State = StateDone
		return out
	}

	out.State = StateIndexing
	recordID, err := o.indexer.Index(ctx, index.Document{
		SourceURL:   src.URL,
		Title:       res.Title,
		Text:        res.Text,
		Fingerprint: fingerprint,
		Metadata:    res.Metadata,
		RetrievedAt: page.FetchedAt,
	})
	if err != nil {
		out.Status = StatusFailed
		out.State = StateFailed
		out.Err = err
		return out
	}

	out.RecordID = recordID
	out.Status = StatusIndexed
	out.State = StateDone
	return out
}

// scheduleFollowUps registers discovered post URLs as sources of their own,
// bounded per run. Registered follow-ups inherit the parent's tags and check
// frequency and are picked up by the next cycle; excess links are simply
// rediscovered then.
func (o *Orchestrator) scheduleFollowUps(ctx context.Context, parent store.Source, links []string) int {
	limit := min(o.cfg.MaxFollowUps, len(links))
	registered := 0
	for _, link := range links[:limit] {
		err := o.sources.AddSource(ctx, link, parent.Tags, normalize.HintArticle, parent.CheckFrequency)
		if err != nil {
			o.logger.Warn("failed to register follow-up source",
				"parent", parent.URL,
				"link", link,
				"error", err)
			continue
		}
		registered++
	}
	if len(links) > limit {
		o.logger.Debug("deferring excess follow-up links",
			"parent", parent.URL,
			"deferred", len(links)-limit)
	}
	return registered
}

// acquire takes the per-source run token.
func (o *Orchestrator) acquire(url string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[url]; busy {
		return false
	}
	o.inFlight[url] = struct{}{}
	return true
}

// release returns the per-source run token.
func (o *Orchestrator) release(url string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, url)
}
