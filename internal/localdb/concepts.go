package localdb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/embeddings"
)

func toConcepts(rows []conceptRow) []*db.Concept {
	out := make([]*db.Concept, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toConcept())
	}
	return out
}

// FindByName returns the oldest concept whose name matches case-insensitively
func (s *Store) FindByName(ctx context.Context, name string) (*db.Concept, error) {
	var row conceptRow
	err := s.gdb.WithContext(ctx).Where("name_key = ?", db.NormalizeName(name)).
		Order("created_at, rowid").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find concept by name: %w", err)
	}
	return row.toConcept(), nil
}

// GetConcept retrieves a concept by ID
func (s *Store) GetConcept(ctx context.Context, id uuid.UUID) (*db.Concept, error) {
	var row conceptRow
	err := s.gdb.WithContext(ctx).Where("id = ?", id.String()).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get concept: %w", err)
	}
	return row.toConcept(), nil
}

// ListConcepts returns the most recently updated concepts
func (s *Store) ListConcepts(ctx context.Context, limit int) ([]*db.Concept, error) {
	var rows []conceptRow
	if err := s.gdb.WithContext(ctx).Order("updated_at DESC, id").Limit(db.ClampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list concepts: %w", err)
	}
	return toConcepts(rows), nil
}

// InsertConcept stores a new concept and assigns its ID
func (s *Store) InsertConcept(ctx context.Context, c *db.Concept) (uuid.UUID, error) {
	id := uuid.New()
	tags := db.NormalizeTags(c.Tags)
	count := c.SourceChatCount
	if count <= 0 {
		count = 1
	}
	now := time.Now()
	row := conceptRow{
		ID:              id.String(),
		Name:            c.Name,
		NameKey:         db.NormalizeName(c.Name),
		Description:     c.Description,
		Tags:            encodeTags(tags),
		Embedding:       encodeEmbedding(c.Embedding),
		ConfidenceScore: db.ClampScore(c.ConfidenceScore),
		SourceChatCount: count,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.gdb.WithContext(ctx).Create(&row).Error; err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert concept: %w", err)
	}
	c.ID = id
	c.Tags = tags
	c.SourceChatCount = count
	c.CreatedAt = now
	c.UpdatedAt = now
	return id, nil
}

// IncrementSourceCount records that another session reinforced a concept
func (s *Store) IncrementSourceCount(ctx context.Context, id uuid.UUID) error {
	res := s.gdb.WithContext(ctx).Model(&conceptRow{}).Where("id = ?", id.String()).
		Updates(map[string]any{
			"source_chat_count": gorm.Expr("source_chat_count + 1"),
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to increment source count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return db.ErrNotFound
	}
	return nil
}

// UpdateEmbedding stores a computed embedding for a concept
func (s *Store) UpdateEmbedding(ctx context.Context, id uuid.UUID, embedding *pgvector.Vector) error {
	res := s.gdb.WithContext(ctx).Model(&conceptRow{}).Where("id = ?", id.String()).
		Updates(map[string]any{
			"embedding":  encodeEmbedding(embedding),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update embedding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return db.ErrNotFound
	}
	return nil
}

// ConceptsMissingEmbedding returns concepts whose embedding was never
// computed, skipping the ids in exclude
func (s *Store) ConceptsMissingEmbedding(ctx context.Context, exclude []uuid.UUID, limit int) ([]*db.Concept, error) {
	q := s.gdb.WithContext(ctx).Where("embedding IS NULL")
	if len(exclude) > 0 {
		ids := make([]string, len(exclude))
		for i, id := range exclude {
			ids[i] = id.String()
		}
		q = q.Where("id NOT IN ?", ids)
	}
	var rows []conceptRow
	if err := q.Order("created_at, rowid").Limit(db.ClampLimit(limit)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list concepts missing embeddings: %w", err)
	}
	return toConcepts(rows), nil
}

// LinkToSession creates or refreshes the link between a concept and a session
func (s *Store) LinkToSession(ctx context.Context, conceptID, sessionID uuid.UUID, relevance float64) error {
	row := linkRow{
		ConceptID:      conceptID.String(),
		ChatSessionID:  sessionID.String(),
		RelevanceScore: db.ClampScore(relevance),
		CreatedAt:      time.Now(),
	}
	err := s.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "concept_id"}, {Name: "chat_session_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"relevance_score"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to link concept to session: %w", err)
	}
	return nil
}

// UpsertRelationship inserts a directed edge if the (source, target) pair
// does not exist yet. It reports whether a row was inserted.
func (s *Store) UpsertRelationship(ctx context.Context, sourceID, targetID uuid.UUID, relType string, score float64) (bool, error) {
	if sourceID == targetID {
		return false, fmt.Errorf("refusing self relationship for concept %s", sourceID)
	}
	row := relationshipRow{
		ID:               uuid.NewString(),
		SourceConceptID:  sourceID.String(),
		TargetConceptID:  targetID.String(),
		RelationshipType: relType,
		SimilarityScore:  db.ClampScore(score),
		CreatedAt:        time.Now(),
	}
	res := s.gdb.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_concept_id"}, {Name: "target_concept_id"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, fmt.Errorf("failed to upsert relationship: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RelationshipsFor returns the outgoing edges of a concept, strongest first
func (s *Store) RelationshipsFor(ctx context.Context, conceptID uuid.UUID) ([]db.ConceptRelationship, error) {
	var rows []relationshipRow
	if err := s.gdb.WithContext(ctx).Where("source_concept_id = ?", conceptID.String()).
		Order("similarity_score DESC, created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get relationships: %w", err)
	}
	rels := make([]db.ConceptRelationship, 0, len(rows))
	for _, r := range rows {
		rels = append(rels, db.ConceptRelationship{
			ID:               parseID(r.ID),
			SourceConceptID:  parseID(r.SourceConceptID),
			TargetConceptID:  parseID(r.TargetConceptID),
			RelationshipType: r.RelationshipType,
			SimilarityScore:  r.SimilarityScore,
			CreatedAt:        r.CreatedAt,
		})
	}
	return rels, nil
}

// ConceptsForSession returns the concepts linked to a session, most relevant first
func (s *Store) ConceptsForSession(ctx context.Context, sessionID uuid.UUID) ([]db.ScoredConcept, error) {
	var links []linkRow
	if err := s.gdb.WithContext(ctx).Where("chat_session_id = ?", sessionID.String()).
		Order("relevance_score DESC").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to get concepts for session: %w", err)
	}
	out := make([]db.ScoredConcept, 0, len(links))
	for _, l := range links {
		var row conceptRow
		if err := s.gdb.WithContext(ctx).Where("id = ?", l.ConceptID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get linked concept: %w", err)
		}
		out = append(out, db.ScoredConcept{Concept: row.toConcept(), Score: l.RelevanceScore})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Concept.Name < out[j].Concept.Name
	})
	return out, nil
}

// SessionLink returns the link between one concept and one session, or nil
// when they are not linked
func (s *Store) SessionLink(ctx context.Context, conceptID, sessionID uuid.UUID) (*db.SessionRef, error) {
	var l linkRow
	err := s.gdb.WithContext(ctx).
		Where("concept_id = ? AND chat_session_id = ?", conceptID.String(), sessionID.String()).
		First(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session link: %w", err)
	}
	session, err := s.GetSession(ctx, sessionID)
	if err != nil || session == nil {
		return nil, err
	}
	return &db.SessionRef{
		SessionID:      session.ID,
		Title:          session.Title,
		RelevanceScore: l.RelevanceScore,
		LinkedAt:       l.CreatedAt,
	}, nil
}

// SessionsForConcept returns the sessions a concept is linked to
func (s *Store) SessionsForConcept(ctx context.Context, conceptID uuid.UUID) ([]db.SessionRef, error) {
	var links []linkRow
	if err := s.gdb.WithContext(ctx).Where("concept_id = ?", conceptID.String()).
		Order("relevance_score DESC, created_at").Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to get sessions for concept: %w", err)
	}
	refs := make([]db.SessionRef, 0, len(links))
	for _, l := range links {
		var row sessionRow
		if err := s.gdb.WithContext(ctx).Where("id = ?", l.ChatSessionID).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to get linked session: %w", err)
		}
		refs = append(refs, db.SessionRef{
			SessionID:      parseID(row.ID),
			Title:          row.Title,
			RelevanceScore: l.RelevanceScore,
			LinkedAt:       l.CreatedAt,
		})
	}
	return refs, nil
}

// SimilaritySearch finds concepts whose cosine similarity to embedding is at
// least threshold, most similar first. SQLite has no vector operator, so
// candidates are scored in process.
func (s *Store) SimilaritySearch(ctx context.Context, embedding *pgvector.Vector, threshold float64, limit int, exclude uuid.UUID) ([]db.ScoredConcept, error) {
	if embedding == nil {
		return nil, nil
	}
	var rows []conceptRow
	if err := s.gdb.WithContext(ctx).Where("embedding IS NOT NULL AND id <> ?", exclude.String()).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search concepts: %w", err)
	}

	query := embedding.Slice()
	var out []db.ScoredConcept
	for i := range rows {
		c := rows[i].toConcept()
		if c.Embedding == nil {
			continue
		}
		score := embeddings.Cosine(query, c.Embedding.Slice())
		if score < threshold {
			continue
		}
		out = append(out, db.ScoredConcept{Concept: c, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Concept.ID.String() < out[j].Concept.ID.String()
	})
	if limit = db.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TextSearch matches name or description case-insensitively
func (s *Store) TextSearch(ctx context.Context, query string, limit int) ([]*db.Concept, error) {
	pattern := db.LikePattern(query)
	var rows []conceptRow
	if err := s.gdb.WithContext(ctx).
		Where(`name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'`, pattern, pattern).
		Order("confidence_score DESC, updated_at DESC").
		Limit(db.ClampLimit(limit)).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to search concepts by text: %w", err)
	}
	return toConcepts(rows), nil
}
