package analysis

import (
	"github.com/google/uuid"
)

// ConceptResult reports what happened to one candidate
type ConceptResult struct {
	ID      uuid.UUID `json:"id"`
	Name    string    `json:"name"`
	Created bool      `json:"created"`
	Related int       `json:"related"`
}

// Outcome is the result of one analysis run
type Outcome struct {
	SessionID            uuid.UUID       `json:"sessionId"`
	Success              bool            `json:"success"`
	NewConceptsCreated   int             `json:"newConceptsCreated"`
	ConceptsLinked       int             `json:"conceptsLinked"`
	RelationshipsCreated int             `json:"relationshipsCreated"`
	ErrorMessage         string          `json:"errorMessage,omitempty"`
	DurationMs           int64           `json:"durationMs"`
	Concepts             []ConceptResult `json:"concepts,omitempty"`
}
