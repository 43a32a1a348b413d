// Package schedule drives periodic work: ingest cycles, pruning, and the
// daily digest. The scheduler is a thin ticker loop; which sources are due
// is decided per cycle by the orchestrator from each source's own frequency.
package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/veillehq/veille/internal/ingest"
)

// DefaultTickInterval is how often the scheduler wakes up to look for due
// sources. Individual sources still honor their own check frequency.
const DefaultTickInterval = 15 * time.Minute

// Ingester runs one ingest cycle over due sources.
type Ingester interface {
	RunCycle(ctx context.Context) ([]ingest.Outcome, error)
}

// Pruner removes retired content past the retention horizon.
type Pruner interface {
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

// DigestWriter produces the daily digest.
type DigestWriter interface {
	Daily(ctx context.Context) (string, error)
}

// Scheduler periodically ingests due sources, prunes old records, and emits
// a daily digest.
type Scheduler struct {
	ingester     Ingester
	pruner       Pruner
	digests      DigestWriter
	tickInterval time.Duration
	retention    time.Duration
	logger       *slog.Logger

	lastDigest time.Time
}

// New creates a Scheduler. digests may be nil to disable the daily digest;
// retention <= 0 disables pruning.
func New(ingester Ingester, pruner Pruner, digests DigestWriter, retention time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		ingester:     ingester,
		pruner:       pruner,
		digests:      digests,
		tickInterval: DefaultTickInterval,
		retention:    retention,
		logger:       logger,
	}
}

// Run blocks until ctx is canceled, running one cycle per tick. The first
// cycle runs immediately. Callers must track the goroutine with a WaitGroup.
func (s *Scheduler) Run(ctx context.Context) {
	s.runOnce(ctx)

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes a single ingest + prune + digest cycle.
func (s *Scheduler) runOnce(ctx context.Context) {
	outcomes, err := s.ingester.RunCycle(ctx)
	if err != nil {
		s.logger.Warn("ingest cycle failed", "error", err)
	} else if len(outcomes) > 0 {
		indexed := 0
		failed := 0
		for _, out := range outcomes {
			switch out.Status {
			case ingest.StatusIndexed:
				indexed++
			case ingest.StatusFailed:
				failed++
			}
		}
		s.logger.Info("scheduled ingest cycle done",
			"sources", len(outcomes),
			"indexed", indexed,
			"failed", failed)
	}

	if s.retention > 0 {
		if _, err := s.pruner.Prune(ctx, time.Now().UTC().Add(-s.retention)); err != nil {
			s.logger.Warn("prune failed", "error", err)
		}
	}

	s.maybeDigest(ctx)
}

// maybeDigest emits the daily digest at most once per day.
func (s *Scheduler) maybeDigest(ctx context.Context) {
	if s.digests == nil {
		return
	}
	now := time.Now().UTC()
	if !s.lastDigest.IsZero() && now.Sub(s.lastDigest) < 24*time.Hour {
		return
	}
	digest, err := s.digests.Daily(ctx)
	if err != nil {
		s.logger.Warn("daily digest failed", "error", err)
		return
	}
	s.lastDigest = now
	s.logger.Info("daily digest", "digest", digest)
}
