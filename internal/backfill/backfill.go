// Package backfill computes embeddings for concepts that were stored
// without one, typically because the embedding backend was unavailable
// during analysis.
package backfill

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/errgroup"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/embeddings"
	"github.com/geniusreads/conceptd/internal/logger"
)

// Store is the part of the concept store backfill needs
type Store interface {
	ConceptsMissingEmbedding(ctx context.Context, exclude []uuid.UUID, limit int) ([]*db.Concept, error)
	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding *pgvector.Vector) error
}

// Result summarizes a run
type Result struct {
	Scanned  int
	Embedded int
	Failed   int
}

// Processor embeds concepts in batches with bounded concurrency
type Processor struct {
	store       Store
	embedder    embeddings.Embedder
	batchSize   int
	concurrency int
	log         *logger.Logger

	running sync.Mutex
}

// New creates a backfill processor
func New(store Store, embedder embeddings.Embedder, batchSize, concurrency int, log *logger.Logger) *Processor {
	if batchSize <= 0 {
		batchSize = 50
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{
		store:       store,
		embedder:    embedder,
		batchSize:   batchSize,
		concurrency: concurrency,
		log:         log.With("component", "backfill"),
	}
}

// Run processes every concept missing an embedding. A concept that fails
// to embed is skipped for the rest of the run. Only store read errors and
// context cancellation abort the run. Overlapping calls return immediately
// with an empty result.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	if !p.running.TryLock() {
		p.log.Debug("Backfill already running, skipping")
		return res, nil
	}
	defer p.running.Unlock()

	var failed []uuid.UUID
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		batch, err := p.store.ConceptsMissingEmbedding(ctx, failed, p.batchSize)
		if err != nil {
			return res, err
		}
		if len(batch) == 0 {
			break
		}

		embedded, failures, err := p.processBatch(ctx, batch)
		res.Scanned += len(batch)
		res.Embedded += embedded
		res.Failed += len(failures)
		failed = append(failed, failures...)
		if err != nil {
			return res, err
		}
	}

	if res.Scanned > 0 {
		p.log.Info("Backfill finished", "scanned", res.Scanned, "embedded", res.Embedded, "failed", res.Failed)
	}
	return res, nil
}

func (p *Processor) processBatch(ctx context.Context, batch []*db.Concept) (int, []uuid.UUID, error) {
	var embedded atomic.Int64
	var mu sync.Mutex
	var failures []uuid.UUID

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, c := range batch {
		g.Go(func() error {
			if err := p.embedOne(gctx, c); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.log.Warn("Failed to embed concept", "concept_id", c.ID, "name", c.Name, "error", err)
				mu.Lock()
				failures = append(failures, c.ID)
				mu.Unlock()
				return nil
			}
			embedded.Add(1)
			return nil
		})
	}
	err := g.Wait()
	return int(embedded.Load()), failures, err
}

func (p *Processor) embedOne(ctx context.Context, c *db.Concept) error {
	vec, err := p.embedder.Embed(ctx, db.EmbeddingText(c.Name, c.Description))
	if err != nil {
		return err
	}
	return p.store.UpdateEmbedding(ctx, c.ID, vec)
}
