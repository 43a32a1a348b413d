// Package app wires the application together: configuration, database,
// Genkit, and every pipeline component, with explicit construction order
// and teardown.
package app

import (
	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veillehq/veille/internal/answer"
	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/index"
	"github.com/veillehq/veille/internal/ingest"
	"github.com/veillehq/veille/internal/log"
	"github.com/veillehq/veille/internal/retrieve"
	"github.com/veillehq/veille/internal/schedule"
	"github.com/veillehq/veille/internal/store"
	"github.com/veillehq/veille/internal/summary"
)

// App holds every constructed component. Built by Setup, torn down by Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Genkit   *genkit.Genkit
	Embedder ai.Embedder
	DBPool   *pgxpool.Pool
	Store    *store.Store

	Orchestrator *ingest.Orchestrator
	Indexer      *index.Indexer
	Retriever    *retrieve.Retriever
	Composer     *answer.Composer
	Summarizer   *summary.Summarizer
	Scheduler    *schedule.Scheduler
}

// Close releases held resources. Safe to call after a partial Setup.
func (a *App) Close() {
	if a.DBPool != nil {
		a.DBPool.Close()
		a.Logger.Debug("database pool closed")
	}
}
