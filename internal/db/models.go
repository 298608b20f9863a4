package db

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// AnalysisStatus tracks a session's progress through concept extraction
type AnalysisStatus string

const (
	StatusNone       AnalysisStatus = "none"
	StatusProcessing AnalysisStatus = "processing"
	StatusComplete   AnalysisStatus = "complete"
	StatusFailed     AnalysisStatus = "failed"
)

// Valid reports whether s is one of the known statuses
func (s AnalysisStatus) Valid() bool {
	switch s {
	case StatusNone, StatusProcessing, StatusComplete, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends an analysis run
func (s AnalysisStatus) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Role identifies the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// RelationshipRelated is the edge type created between related concepts
const RelationshipRelated = "related"

// Session is a conversation about highlighted passages
type Session struct {
	ID             uuid.UUID
	Title          string
	AnalysisStatus AnalysisStatus
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Message is a single chat turn
type Message struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Excerpt is a passage highlighted in a source document
type Excerpt struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	DocumentID    uuid.UUID
	DocumentTitle string
	PageNumber    int
	SelectedText  string
	CreatedAt     time.Time
}

// SessionSnapshot is the read-only view of a session handed to extraction
type SessionSnapshot struct {
	Session  Session
	Messages []Message
	Excerpts []Excerpt
}

// Concept is a persisted, deduplicated knowledge unit
type Concept struct {
	ID              uuid.UUID
	Name            string
	Description     string
	Tags            []string
	Embedding       *pgvector.Vector
	ConfidenceScore float64
	SourceChatCount int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EmbeddingText is the text a concept's embedding is computed from
func EmbeddingText(name, description string) string {
	return name + ": " + description
}

// ScoredConcept pairs a concept with a similarity or relevance score
type ScoredConcept struct {
	Concept *Concept
	Score   float64
}

// ConceptSessionLink associates a concept with a session that produced or
// reinforced it
type ConceptSessionLink struct {
	ConceptID      uuid.UUID
	SessionID      uuid.UUID
	RelevanceScore float64
	CreatedAt      time.Time
}

// SessionRef is a session seen from one of its concepts
type SessionRef struct {
	SessionID      uuid.UUID
	Title          string
	RelevanceScore float64
	LinkedAt       time.Time
}

// ConceptRelationship is a directed, typed, scored edge between concepts
type ConceptRelationship struct {
	ID               uuid.UUID
	SourceConceptID  uuid.UUID
	TargetConceptID  uuid.UUID
	RelationshipType string
	SimilarityScore  float64
	CreatedAt        time.Time
}
