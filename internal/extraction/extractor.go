// Package extraction is the boundary to the concept extraction service. A
// backend receives a session transcript and returns candidate concepts.
package extraction

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/ollama"
)

// Request is everything a backend needs to extract concepts from a session
type Request struct {
	SessionID  uuid.UUID
	Messages   []db.Message
	Excerpts   []db.Excerpt
	Credential string
}

// Candidate is a concept proposed by the extraction service, not yet persisted
type Candidate struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Tags            []string `json:"tags"`
	ConfidenceScore float64  `json:"confidence_score"`
	RelatedConcepts []string `json:"related_concepts"`
}

// Response is the service's answer. A reported failure (Success false) is
// distinct from a transport error returned by Extract.
type Response struct {
	Success      bool        `json:"success"`
	Concepts     []Candidate `json:"concepts"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

// Extractor is implemented by every extraction backend
type Extractor interface {
	Extract(ctx context.Context, req *Request) (*Response, error)
	// RequiresCredential reports whether Extract needs Request.Credential
	RequiresCredential() bool
}

// Options selects and configures a backend
type Options struct {
	Provider         string // openai, ollama or http
	Model            string
	Endpoint         string
	MaxContextTokens int
	CredentialNeeded bool // http backend only
	Ollama           *ollama.Client
}

// New returns the backend named by opts.Provider
func New(opts Options) (Extractor, error) {
	switch opts.Provider {
	case "", "openai":
		return NewOpenAIExtractor(opts.Model, opts.MaxContextTokens), nil
	case "ollama":
		if opts.Ollama == nil {
			return nil, fmt.Errorf("ollama extraction requires an ollama client")
		}
		return NewOllamaExtractor(opts.Ollama, opts.Model, opts.MaxContextTokens), nil
	case "http":
		if opts.Endpoint == "" {
			return nil, fmt.Errorf("http extraction requires an endpoint")
		}
		return NewHTTPExtractor(opts.Endpoint, opts.MaxContextTokens, opts.CredentialNeeded), nil
	default:
		return nil, fmt.Errorf("unknown extraction provider %q", opts.Provider)
	}
}
