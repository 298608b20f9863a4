package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const conceptColumns = `id, name, description, tags, embedding, confidence_score, source_chat_count, created_at, updated_at`

func scanConcept(row pgx.Row, extra ...any) (*Concept, error) {
	var c Concept
	dest := []any{&c.ID, &c.Name, &c.Description, &c.Tags, &c.Embedding,
		&c.ConfidenceScore, &c.SourceChatCount, &c.CreatedAt, &c.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &c, nil
}

func collectConcepts(rows pgx.Rows) ([]*Concept, error) {
	defer rows.Close()
	var concepts []*Concept
	for rows.Next() {
		c, err := scanConcept(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

func collectScored(rows pgx.Rows) ([]ScoredConcept, error) {
	defer rows.Close()
	var out []ScoredConcept
	for rows.Next() {
		var score float64
		c, err := scanConcept(rows, &score)
		if err != nil {
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		out = append(out, ScoredConcept{Concept: c, Score: score})
	}
	return out, rows.Err()
}

// FindByName returns the oldest concept whose name matches case-insensitively
func (db *DB) FindByName(ctx context.Context, name string) (*Concept, error) {
	c, err := scanConcept(db.pool.QueryRow(ctx,
		`SELECT `+conceptColumns+`
		 FROM concepts WHERE lower(name) = $1
		 ORDER BY created_at, id LIMIT 1`,
		NormalizeName(name),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find concept by name: %w", err)
	}
	return c, nil
}

// GetConcept retrieves a concept by ID
func (db *DB) GetConcept(ctx context.Context, id uuid.UUID) (*Concept, error) {
	c, err := scanConcept(db.pool.QueryRow(ctx,
		`SELECT `+conceptColumns+` FROM concepts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}
	return c, nil
}

// ListConcepts returns the most recently updated concepts
func (db *DB) ListConcepts(ctx context.Context, limit int) ([]*Concept, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+conceptColumns+` FROM concepts ORDER BY updated_at DESC, id LIMIT $1`,
		ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	return collectConcepts(rows)
}

// InsertConcept stores a new concept and assigns its ID
func (db *DB) InsertConcept(ctx context.Context, c *Concept) (uuid.UUID, error) {
	id := uuid.New()
	tags := NormalizeTags(c.Tags)
	count := c.SourceChatCount
	if count <= 0 {
		count = 1
	}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO concepts (id, name, description, tags, embedding, confidence_score, source_chat_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at, updated_at`,
		id, c.Name, c.Description, tags, c.Embedding, ClampScore(c.ConfidenceScore), count,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert concept: %w", err)
	}
	c.ID = id
	c.Tags = tags
	c.SourceChatCount = count
	return id, nil
}

// IncrementSourceCount records that another session reinforced a concept
func (db *DB) IncrementSourceCount(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE concepts SET source_chat_count = source_chat_count + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to increment source count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateEmbedding stores a computed embedding for a concept
func (db *DB) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE concepts SET embedding = $2, updated_at = NOW() WHERE id = $1`, id, embedding)
	if err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ConceptsMissingEmbedding returns concepts whose embedding was never
// computed, skipping the ids in exclude
func (db *DB) ConceptsMissingEmbedding(ctx context.Context, exclude []uuid.UUID, limit int) ([]*Concept, error) {
	if exclude == nil {
		exclude = []uuid.UUID{}
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+conceptColumns+` FROM concepts
		 WHERE embedding IS NULL AND NOT (id = ANY($1::uuid[]))
		 ORDER BY created_at, id LIMIT $2`,
		exclude, ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list concepts missing embeddings: %w", err)
	}
	return collectConcepts(rows)
}

// LinkToSession creates or refreshes the link between a concept and a session
func (db *DB) LinkToSession(ctx context.Context, conceptID, sessionID uuid.UUID, relevance float64) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO concept_chat_links (concept_id, chat_session_id, relevance_score)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (concept_id, chat_session_id)
		 DO UPDATE SET relevance_score = EXCLUDED.relevance_score`,
		conceptID, sessionID, ClampScore(relevance),
	)
	if err != nil {
		return fmt.Errorf("failed to link concept to session: %w", err)
	}
	return nil
}

// UpsertRelationship inserts a directed edge if the (source, target) pair
// does not exist yet. It reports whether a row was inserted.
func (db *DB) UpsertRelationship(ctx context.Context, sourceID, targetID uuid.UUID, relType string, score float64) (bool, error) {
	if sourceID == targetID {
		return false, fmt.Errorf("refusing self relationship for concept %s", sourceID)
	}
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO concept_relationships (id, source_concept_id, target_concept_id, relationship_type, similarity_score)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_concept_id, target_concept_id) DO NOTHING`,
		uuid.New(), sourceID, targetID, relType, ClampScore(score),
	)
	if err != nil {
		return false, fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RelationshipsFor returns the outgoing edges of a concept, strongest first
func (db *DB) RelationshipsFor(ctx context.Context, conceptID uuid.UUID) ([]ConceptRelationship, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, source_concept_id, target_concept_id, relationship_type, similarity_score, created_at
		 FROM concept_relationships WHERE source_concept_id = $1
		 ORDER BY similarity_score DESC, created_at`,
		conceptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	defer rows.Close()

	var rels []ConceptRelationship
	for rows.Next() {
		var r ConceptRelationship
		if err := rows.Scan(&r.ID, &r.SourceConceptID, &r.TargetConceptID, &r.RelationshipType, &r.SimilarityScore, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// ConceptsForSession returns the concepts linked to a session, most relevant first
func (db *DB) ConceptsForSession(ctx context.Context, sessionID uuid.UUID) ([]ScoredConcept, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT c.id, c.name, c.description, c.tags, c.embedding, c.confidence_score,
		        c.source_chat_count, c.created_at, c.updated_at, l.relevance_score
		 FROM concept_chat_links l
		 JOIN concepts c ON c.id = l.concept_id
		 WHERE l.chat_session_id = $1
		 ORDER BY l.relevance_score DESC, c.name`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get concepts for session: %w", err)
	}
	return collectScored(rows)
}

// SessionLink returns the link between one concept and one session, or nil
// when they are not linked
func (db *DB) SessionLink(ctx context.Context, conceptID, sessionID uuid.UUID) (*SessionRef, error) {
	var r SessionRef
	err := db.pool.QueryRow(ctx,
		`SELECT s.id, s.title, l.relevance_score, l.created_at
		 FROM concept_chat_links l
		 JOIN chat_sessions s ON s.id = l.chat_session_id
		 WHERE l.concept_id = $1 AND l.chat_session_id = $2`,
		conceptID, sessionID,
	).Scan(&r.SessionID, &r.Title, &r.RelevanceScore, &r.LinkedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session link: %w", err)
	}
	return &r, nil
}

// SessionsForConcept returns the sessions a concept is linked to
func (db *DB) SessionsForConcept(ctx context.Context, conceptID uuid.UUID) ([]SessionRef, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.id, s.title, l.relevance_score, l.created_at
		 FROM concept_chat_links l
		 JOIN chat_sessions s ON s.id = l.chat_session_id
		 WHERE l.concept_id = $1
		 ORDER BY l.relevance_score DESC, l.created_at`,
		conceptID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions for concept: %w", err)
	}
	defer rows.Close()

	var refs []SessionRef
	for rows.Next() {
		var r SessionRef
		if err := rows.Scan(&r.SessionID, &r.Title, &r.RelevanceScore, &r.LinkedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session ref: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// SimilaritySearch finds concepts whose cosine similarity to embedding is at
// least threshold, most similar first. exclude (if not uuid.Nil) is omitted.
func (db *DB) SimilaritySearch(ctx context.Context, embedding *pgvector.Vector, threshold float64, limit int, exclude uuid.UUID) ([]ScoredConcept, error) {
	if embedding == nil {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+conceptColumns+`, score FROM (
		     SELECT `+conceptColumns+`,
		            GREATEST(0, LEAST(1, 1 - (embedding <=> $1))) AS score
		     FROM concepts
		     WHERE embedding IS NOT NULL AND id <> $2
		       AND vector_dims(embedding) = vector_dims($1)
		 ) scored
		 WHERE score >= $3
		 ORDER BY score DESC, id
		 LIMIT $4`,
		embedding, exclude, threshold, ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search concepts: %w", err)
	}
	return collectScored(rows)
}

// TextSearch matches name or description case-insensitively
func (db *DB) TextSearch(ctx context.Context, query string, limit int) ([]*Concept, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+conceptColumns+`
		 FROM concepts
		 WHERE name ILIKE $1 ESCAPE '\' OR description ILIKE $1 ESCAPE '\'
		 ORDER BY confidence_score DESC, updated_at DESC
		 LIMIT $2`,
		LikePattern(query), ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search concepts by text: %w", err)
	}
	return collectConcepts(rows)
}
