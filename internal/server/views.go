package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/geniusreads/conceptd/internal/db"
)

type sessionView struct {
	ID             uuid.UUID  `json:"id"`
	Title          string     `json:"title"`
	AnalysisStatus string     `json:"analysisStatus"`
	Active         bool       `json:"isActive"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

func newSessionView(s *db.Session) sessionView {
	return sessionView{
		ID:             s.ID,
		Title:          s.Title,
		AnalysisStatus: string(s.AnalysisStatus),
		Active:         s.Active,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		CompletedAt:    s.CompletedAt,
	}
}

type conceptView struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	Tags            []string  `json:"tags"`
	ConfidenceScore float64   `json:"confidenceScore"`
	SourceChatCount int       `json:"sourceChatCount"`
	HasEmbedding    bool      `json:"hasEmbedding"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Score           *float64  `json:"score,omitempty"`
}

func newConceptView(c *db.Concept) conceptView {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}
	return conceptView{
		ID:              c.ID,
		Name:            c.Name,
		Description:     c.Description,
		Tags:            tags,
		ConfidenceScore: c.ConfidenceScore,
		SourceChatCount: c.SourceChatCount,
		HasEmbedding:    c.Embedding != nil,
		CreatedAt:       c.CreatedAt,
		UpdatedAt:       c.UpdatedAt,
	}
}

func newConceptViews(cs []*db.Concept) []conceptView {
	out := make([]conceptView, 0, len(cs))
	for _, c := range cs {
		out = append(out, newConceptView(c))
	}
	return out
}

func newScoredViews(scored []db.ScoredConcept) []conceptView {
	out := make([]conceptView, 0, len(scored))
	for _, sc := range scored {
		v := newConceptView(sc.Concept)
		score := sc.Score
		v.Score = &score
		out = append(out, v)
	}
	return out
}

type relationshipView struct {
	TargetID        uuid.UUID `json:"targetConceptId"`
	Type            string    `json:"relationshipType"`
	SimilarityScore float64   `json:"similarityScore"`
}

type sessionRefView struct {
	SessionID      uuid.UUID `json:"sessionId"`
	Title          string    `json:"title"`
	RelevanceScore float64   `json:"relevanceScore"`
}

type linkView struct {
	ConceptID          uuid.UUID `json:"conceptId"`
	ConceptName        string    `json:"conceptName"`
	ConceptDescription string    `json:"conceptDescription"`
	sessionRefView
	LinkedAt time.Time `json:"linkedAt"`
}

type conceptDetail struct {
	conceptView
	Relationships []relationshipView `json:"relationships"`
	Sessions      []sessionRefView   `json:"sessions"`
}
