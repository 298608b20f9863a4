// Package app assembles the pipeline from configuration. The CLI and the
// HTTP server share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/geniusreads/conceptd/config"
	"github.com/geniusreads/conceptd/internal/analysis"
	"github.com/geniusreads/conceptd/internal/backfill"
	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/embeddings"
	"github.com/geniusreads/conceptd/internal/extraction"
	"github.com/geniusreads/conceptd/internal/graph"
	"github.com/geniusreads/conceptd/internal/localdb"
	"github.com/geniusreads/conceptd/internal/lock"
	"github.com/geniusreads/conceptd/internal/logger"
	"github.com/geniusreads/conceptd/internal/matcher"
	"github.com/geniusreads/conceptd/internal/ollama"
	"github.com/geniusreads/conceptd/internal/search"
	"github.com/geniusreads/conceptd/internal/server"
	"github.com/geniusreads/conceptd/internal/tracing"
)

// Store is everything the pipeline needs from persistence. Both the
// Postgres and the SQLite stores implement it.
type Store interface {
	analysis.SessionStore
	matcher.Store
	server.Store
	search.Store
	backfill.Store
	ListSessions(ctx context.Context, limit int) ([]*db.Session, error)
	ActivateSession(ctx context.Context, sessionID uuid.UUID) error
}

var (
	_ Store = (*db.DB)(nil)
	_ Store = (*localdb.Store)(nil)
)

// App holds the wired components
type App struct {
	Config    *config.Config
	Log       *logger.Logger
	Store     Store
	Embedder  embeddings.Embedder
	Extractor extraction.Extractor
	Locker    lock.Locker
	Matcher   *matcher.Matcher
	Analyzer  *analysis.Orchestrator
	Searcher  *search.Searcher
	Backfill  *backfill.Processor
	Graph     *graph.Publisher

	closers []func(context.Context) error
}

// Options tweaks construction
type Options struct {
	// Migrate applies the Postgres schema on startup. SQLite always migrates.
	Migrate bool
	// Graph enables the Neo4j projection when a URI is configured
	Graph bool
	Version string
}

// New connects every configured backend. On error, anything already opened
// is closed.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (_ *App, err error) {
	if log == nil {
		log = logger.Nop()
	}
	a := &App{Config: cfg, Log: log}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	shutdown, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Version:     opts.Version,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	a.closers = append(a.closers, shutdown)

	if err := a.openStore(ctx, opts.Migrate); err != nil {
		return nil, err
	}

	a.Embedder, err = embeddings.New(cfg.Embeddings.Provider, cfg.Ollama.BaseURL, cfg.Embeddings.TextModel,
		cfg.Extraction.APIKey, cfg.Embeddings.Timeout)
	if err != nil {
		return nil, err
	}

	a.Extractor, err = extraction.New(extraction.Options{
		Provider:         cfg.Extraction.Provider,
		Model:            cfg.ExtractionModel(),
		Endpoint:         cfg.Extraction.Endpoint,
		MaxContextTokens: cfg.Extraction.MaxContextTokens,
		CredentialNeeded: cfg.Extraction.RequireCredential,
		Ollama:           ollama.NewClient(cfg.Ollama.BaseURL, "", cfg.Extraction.Timeout),
	})
	if err != nil {
		return nil, err
	}

	if err := a.openLocker(ctx); err != nil {
		return nil, err
	}

	if opts.Graph {
		a.Graph, err = graph.New(ctx, graph.Config{
			URI:      cfg.Graph.Neo4jURI,
			User:     cfg.Graph.Neo4jUser,
			Password: cfg.Graph.Neo4jPassword,
			Database: cfg.Graph.Neo4jDatabase,
		}, log)
		if err != nil {
			// The projection is optional; analysis works without it.
			log.Warn("Neo4j unavailable, graph projection disabled", "error", err)
			a.Graph = nil
		} else if a.Graph != nil {
			a.closers = append(a.closers, a.Graph.Close)
		}
	}

	a.Matcher = matcher.New(a.Store, a.Embedder, a.Locker, log, matcher.Config{
		DefaultSimilarity: cfg.Matching.DefaultSimilarity,
	})

	analysisOpts := []analysis.Option{analysis.WithLocker(a.Locker)}
	if a.Graph != nil {
		analysisOpts = append(analysisOpts, analysis.WithPublisher(a.Graph))
	}
	a.Analyzer = analysis.New(a.Store, a.Extractor, a.Matcher, log, analysis.Config{
		Credential:        cfg.Extraction.APIKey,
		ExtractionTimeout: cfg.Extraction.Timeout,
	}, analysisOpts...)

	a.Searcher = search.New(a.Store, a.Embedder, cfg.Matching.RelatedThreshold, cfg.Matching.SimilarLimit, log)
	a.Backfill = backfill.New(a.Store, a.Embedder, cfg.Backfill.BatchSize, cfg.Backfill.Concurrency, log)
	return a, nil
}

func (a *App) openStore(ctx context.Context, migrate bool) error {
	switch a.Config.Database.Driver {
	case "sqlite":
		store, err := localdb.Open(a.Config.Database.SQLitePath)
		if err != nil {
			return err
		}
		a.Store = store
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		a.Log.Info("Using SQLite store", "path", a.Config.Database.SQLitePath)
	default:
		database, err := db.New(ctx, a.Config.Database.ConnectionString, a.Config.Database.MaxConns)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.Store = database
		a.closers = append(a.closers, func(context.Context) error { database.Close(); return nil })
		if migrate {
			if err := database.Migrate(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *App) openLocker(ctx context.Context) error {
	switch a.Config.Locking.Backend {
	case "redis":
		r, err := lock.NewRedis(ctx, a.Config.Locking.RedisAddr, a.Config.Locking.TTL)
		if err != nil {
			return err
		}
		a.Locker = r
		a.closers = append(a.closers, func(context.Context) error { return r.Close() })
	default:
		a.Locker = lock.NewMemory(a.Config.Locking.TTL)
	}
	return nil
}

// Server builds the HTTP API over the wired components
func (a *App) Server() (*server.Server, error) {
	return server.New(server.Options{
		Store:            a.Store,
		Analyzer:         a.Analyzer,
		Searcher:         a.Searcher,
		Log:              a.Log,
		AllowedOrigins:   a.Config.Server.AllowedOrigins,
		SimilarThreshold: a.Config.Matching.RelatedThreshold,
	})
}

// Close releases backends in reverse order of opening
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
