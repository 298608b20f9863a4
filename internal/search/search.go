// Package search retrieves concepts by vector similarity, falling back to
// text matching when no vector is available.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/embeddings"
	"github.com/geniusreads/conceptd/internal/logger"
)

// Store is the read side of the concept store used for retrieval
type Store interface {
	GetConcept(ctx context.Context, id uuid.UUID) (*db.Concept, error)
	SimilaritySearch(ctx context.Context, embedding *pgvector.Vector, threshold float64, limit int, exclude uuid.UUID) ([]db.ScoredConcept, error)
	TextSearch(ctx context.Context, query string, limit int) ([]*db.Concept, error)
}

// Mode records how a result set was produced
type Mode string

const (
	ModeVector Mode = "vector"
	ModeText   Mode = "text"
)

// Result contains retrieved concepts
type Result struct {
	Mode     Mode
	Concepts []db.ScoredConcept
}

// Searcher handles concept retrieval
type Searcher struct {
	store     Store
	embedder  embeddings.Embedder
	threshold float64
	limit     int
	log       *logger.Logger
}

// New creates a searcher. threshold is the minimum similarity for free-text
// queries; embedder may be nil, in which case Query only does text matching.
func New(store Store, embedder embeddings.Embedder, threshold float64, limit int, log *logger.Logger) *Searcher {
	if limit <= 0 {
		limit = 10
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Searcher{
		store:     store,
		embedder:  embedder,
		threshold: db.ClampScore(threshold),
		limit:     limit,
		log:       log.With("component", "search"),
	}
}

// Similar returns concepts close to conceptID's stored embedding. A concept
// without an embedding yields no results.
func (s *Searcher) Similar(ctx context.Context, conceptID uuid.UUID, threshold float64, limit int) ([]db.ScoredConcept, error) {
	concept, err := s.store.GetConcept(ctx, conceptID)
	if err != nil {
		return nil, err
	}
	if concept == nil {
		return nil, db.ErrNotFound
	}
	if concept.Embedding == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.limit
	}
	return s.store.SimilaritySearch(ctx, concept.Embedding, db.ClampScore(threshold), limit, concept.ID)
}

// Query embeds text and searches by similarity. Text matching is used when
// embedding fails or finds nothing.
func (s *Searcher) Query(ctx context.Context, text string, limit int) (*Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return &Result{Mode: ModeText}, nil
	}
	if limit <= 0 {
		limit = s.limit
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.log.Warn("Query embedding failed, using text search", "error", err)
		} else {
			scored, err := s.store.SimilaritySearch(ctx, vec, s.threshold, limit, uuid.Nil)
			if err != nil {
				return nil, fmt.Errorf("failed to search concepts: %w", err)
			}
			if len(scored) > 0 {
				return &Result{Mode: ModeVector, Concepts: scored}, nil
			}
		}
	}

	concepts, err := s.store.TextSearch(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	out := &Result{Mode: ModeText, Concepts: make([]db.ScoredConcept, 0, len(concepts))}
	for _, c := range concepts {
		out.Concepts = append(out.Concepts, db.ScoredConcept{Concept: c, Score: keywordScore(c, text)})
	}
	return out, nil
}

// keywordScore is the fraction of query keywords found in the concept's
// name or description.
func keywordScore(c *db.Concept, query string) float64 {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return 0
	}
	content := strings.ToLower(c.Name + " " + c.Description)
	matches := 0
	for _, k := range keywords {
		if strings.Contains(content, k) {
			matches++
		}
	}
	return float64(matches) / float64(len(keywords))
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true,
	"but": true, "in": true, "on": true, "at": true, "to": true,
	"for": true, "of": true, "with": true, "by": true, "is": true,
	"are": true, "was": true, "what": true, "how": true, "why": true,
}

func extractKeywords(query string) []string {
	var keywords []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:")
		if len(word) > 2 && !stopWords[word] {
			keywords = append(keywords, word)
		}
	}
	if len(keywords) == 0 {
		if q := strings.ToLower(strings.TrimSpace(query)); q != "" {
			keywords = []string{q}
		}
	}
	return keywords
}
