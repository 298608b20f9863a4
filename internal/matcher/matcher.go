// Package matcher decides, per extracted candidate, whether it is an
// existing concept or a new one, and wires related-concept edges.
package matcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/embeddings"
	"github.com/geniusreads/conceptd/internal/extraction"
	"github.com/geniusreads/conceptd/internal/lock"
	"github.com/geniusreads/conceptd/internal/logger"
)

// Store is the part of the concept store the matcher writes through
type Store interface {
	FindByName(ctx context.Context, name string) (*db.Concept, error)
	InsertConcept(ctx context.Context, c *db.Concept) (uuid.UUID, error)
	IncrementSourceCount(ctx context.Context, id uuid.UUID) error
	UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding *pgvector.Vector) error
	LinkToSession(ctx context.Context, conceptID, sessionID uuid.UUID, relevance float64) error
	UpsertRelationship(ctx context.Context, sourceID, targetID uuid.UUID, relType string, score float64) (bool, error)
}

// Edge is a relationship pair touched by a match
type Edge struct {
	SourceID uuid.UUID
	TargetID uuid.UUID
	Score    float64
	Inserted bool
}

// Decision is the outcome of matching one candidate
type Decision struct {
	ConceptID uuid.UUID
	Name      string
	Created   bool // false means merged into an existing concept
	Relevance float64
	Related   []uuid.UUID
	Edges     []Edge
}

// EdgesCreated counts edge rows that did not exist before this match
func (d *Decision) EdgesCreated() int {
	n := 0
	for _, e := range d.Edges {
		if e.Inserted {
			n++
		}
	}
	return n
}

// Config tunes the matcher
type Config struct {
	// DefaultSimilarity scores related edges when an embedding is missing
	DefaultSimilarity float64
	// LockPoll is how often a busy name lock is retried
	LockPoll time.Duration
}

// Matcher deduplicates candidates against the concept population
type Matcher struct {
	store    Store
	embedder embeddings.Embedder
	locker   lock.Locker
	log      *logger.Logger
	cfg      Config
	tracer   trace.Tracer
}

// New creates a matcher. embedder and locker may be nil: concepts are then
// stored without vectors, and name checks are not serialized.
func New(store Store, embedder embeddings.Embedder, locker lock.Locker, log *logger.Logger, cfg Config) *Matcher {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.DefaultSimilarity <= 0 || cfg.DefaultSimilarity > 1 {
		cfg.DefaultSimilarity = 0.5
	}
	return &Matcher{
		store:    store,
		embedder: embedder,
		locker:   locker,
		log:      log.With("component", "matcher"),
		cfg:      cfg,
		tracer:   otel.Tracer("github.com/geniusreads/conceptd/internal/matcher"),
	}
}

// Match resolves one candidate for sessionID. An exact case-insensitive name
// match merges into the existing concept; otherwise a new concept is
// inserted. Related names that resolve to existing concepts get an edge in
// each direction. Embedding failures are logged and never fail the match.
func (m *Matcher) Match(ctx context.Context, sessionID uuid.UUID, cand extraction.Candidate) (_ *Decision, err error) {
	ctx, span := m.tracer.Start(ctx, "matcher.match", trace.WithAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.String("concept.name", cand.Name),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	concept, created, err := m.resolve(ctx, sessionID, cand)
	if concept == nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("concept.created", created))

	d := &Decision{
		ConceptID: concept.ID,
		Name:      concept.Name,
		Created:   created,
		Relevance: db.ClampScore(cand.ConfidenceScore),
	}
	if err != nil {
		return d, err
	}
	if err := m.linkRelated(ctx, concept, cand.RelatedConcepts, d); err != nil {
		return d, err
	}

	m.log.Debug("Matched candidate",
		"session_id", sessionID,
		"concept_id", concept.ID,
		"name", concept.Name,
		"created", created,
		"related", len(d.Related),
		"edges_created", d.EdgesCreated(),
	)
	return d, nil
}

// resolve performs the find-then-write step under the per-name lock. A
// concept that was inserted before a later write failed is still returned
// alongside the error.
func (m *Matcher) resolve(ctx context.Context, sessionID uuid.UUID, cand extraction.Candidate) (*db.Concept, bool, error) {
	key := db.NormalizeName(cand.Name)
	if m.locker != nil {
		lease, err := lock.Acquire(ctx, m.locker, lock.ConceptNameKey(key), m.cfg.LockPoll)
		if err != nil {
			return nil, false, fmt.Errorf("failed to lock concept name %q: %w", cand.Name, err)
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				m.log.Warn("Failed to release concept name lock", "name", key, "error", err)
			}
		}()
	}

	existing, err := m.store.FindByName(ctx, cand.Name)
	if err != nil {
		return nil, false, err
	}

	if existing != nil {
		if err := m.store.IncrementSourceCount(ctx, existing.ID); err != nil {
			return nil, false, err
		}
		if err := m.store.LinkToSession(ctx, existing.ID, sessionID, cand.ConfidenceScore); err != nil {
			return nil, false, err
		}
		if existing.Embedding == nil {
			if vec := m.embed(ctx, existing.Name, existing.Description); vec != nil {
				if err := m.store.UpdateEmbedding(ctx, existing.ID, vec); err != nil {
					return nil, false, err
				}
				existing.Embedding = vec
			}
		}
		existing.SourceChatCount++
		return existing, false, nil
	}

	concept := &db.Concept{
		Name:            cand.Name,
		Description:     cand.Description,
		Tags:            cand.Tags,
		Embedding:       m.embed(ctx, cand.Name, cand.Description),
		ConfidenceScore: cand.ConfidenceScore,
		SourceChatCount: 1,
	}
	if _, err := m.store.InsertConcept(ctx, concept); err != nil {
		return nil, false, err
	}
	if err := m.store.LinkToSession(ctx, concept.ID, sessionID, cand.ConfidenceScore); err != nil {
		return concept, true, err
	}
	return concept, true, nil
}

func (m *Matcher) linkRelated(ctx context.Context, concept *db.Concept, names []string, d *Decision) error {
	selfKey := db.NormalizeName(concept.Name)
	seen := map[string]bool{selfKey: true}

	for _, name := range names {
		key := db.NormalizeName(name)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		related, err := m.store.FindByName(ctx, name)
		if err != nil {
			return err
		}
		if related == nil || related.ID == concept.ID {
			m.log.Debug("Dropping unresolved related concept", "concept", concept.Name, "related", name)
			continue
		}

		score := embeddings.Similarity(concept.Embedding, related.Embedding, m.cfg.DefaultSimilarity)
		for _, pair := range [2][2]uuid.UUID{{concept.ID, related.ID}, {related.ID, concept.ID}} {
			inserted, err := m.store.UpsertRelationship(ctx, pair[0], pair[1], db.RelationshipRelated, score)
			if err != nil {
				return err
			}
			d.Edges = append(d.Edges, Edge{SourceID: pair[0], TargetID: pair[1], Score: score, Inserted: inserted})
		}
		d.Related = append(d.Related, related.ID)
	}
	return nil
}

// embed returns nil when no embedder is configured or the call fails
func (m *Matcher) embed(ctx context.Context, name, description string) *pgvector.Vector {
	if m.embedder == nil {
		return nil
	}
	vec, err := m.embedder.Embed(ctx, db.EmbeddingText(name, description))
	if err != nil {
		m.log.Warn("Embedding failed, storing concept without vector", "name", name, "error", err)
		return nil
	}
	return vec
}
