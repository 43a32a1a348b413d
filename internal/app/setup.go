package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"golang.org/x/time/rate"

	"github.com/veillehq/veille/db"
	"github.com/veillehq/veille/internal/answer"
	"github.com/veillehq/veille/internal/config"
	"github.com/veillehq/veille/internal/fetch"
	"github.com/veillehq/veille/internal/index"
	"github.com/veillehq/veille/internal/ingest"
	"github.com/veillehq/veille/internal/ledger"
	"github.com/veillehq/veille/internal/log"
	"github.com/veillehq/veille/internal/normalize"
	"github.com/veillehq/veille/internal/retrieve"
	"github.com/veillehq/veille/internal/schedule"
	"github.com/veillehq/veille/internal/search"
	"github.com/veillehq/veille/internal/security"
	"github.com/veillehq/veille/internal/store"
	"github.com/veillehq/veille/internal/summary"
)

// embedRateLimit paces embedding API calls across the whole process.
var embedRateLimit = rate.Limit(5) // requests per second

// Setup builds the full application. On error everything already
// constructed is released.
func Setup(ctx context.Context, cfg *config.Config) (_ *App, retErr error) {
	if cfg == nil {
		return nil, config.ErrConfigNil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: log.New(log.Config{Level: log.ParseLevel(cfg.LogLevel), JSON: cfg.LogJSON}),
	}
	defer func() {
		if retErr != nil {
			a.Close()
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.PostgresConnectionString())
	if err != nil {
		return nil, err
	}
	a.DBPool = pool
	a.Store = store.New(pool, a.Logger.With("component", "store"))

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit")
	}
	a.Genkit = g

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return nil, fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}
	a.Embedder = embedder

	// The index is bound to one embedding space. A configured embedder that
	// differs from the one the index was built with is fatal.
	if err := a.Store.EnsureEmbeddingMeta(ctx, cfg.EmbedderModel, cfg.EmbedderDim); err != nil {
		return nil, err
	}

	validator := security.NewURL()

	fetcher, err := fetch.New(cfg.Ingest, validator, a.Logger.With("component", "fetch"))
	if err != nil {
		return nil, err
	}
	normalizer := normalize.New(a.Logger.With("component", "normalize"))
	deduper := ledger.New(a.Store, a.Logger.With("component", "ledger"))

	limiter := rate.NewLimiter(embedRateLimit, 1)
	a.Indexer = index.New(a.Store, embedder, index.NewChunker(cfg.Chunking), limiter,
		a.Logger.With("component", "index"))

	a.Orchestrator = ingest.New(a.Store, fetcher, normalizer, deduper, a.Indexer,
		cfg.Ingest, a.Logger.With("component", "ingest"))

	a.Retriever = retrieve.New(a.Store, embedder, cfg.Query.TopK,
		a.Logger.With("component", "retrieve"))
	webSearch := search.New(cfg.SearXNG.BaseURL, validator,
		a.Logger.With("component", "search"))
	a.Composer = answer.New(g, cfg.ModelName, a.Retriever, webSearch, a.Store,
		cfg.Query, a.Logger.With("component", "answer"))

	a.Summarizer = summary.New(g, cfg.ModelName, a.Store,
		a.Logger.With("component", "summary"))

	retention := time.Duration(cfg.Ingest.RetentionDays) * 24 * time.Hour
	a.Scheduler = schedule.New(a.Orchestrator, a.Indexer, a.Summarizer, retention,
		a.Logger.With("component", "schedule"))

	a.Logger.Info("application ready",
		"model", cfg.ModelName,
		"embedder", cfg.EmbedderModel)
	return a, nil
}
