package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Embedder turns text into a fixed-dimension vector
type Embedder interface {
	Embed(ctx context.Context, text string) (*pgvector.Vector, error)
}

// New returns the embedder for the configured provider
func New(provider, baseURL, model, apiKey string, timeout time.Duration) (Embedder, error) {
	switch provider {
	case "", "ollama":
		return NewOllamaEmbedder(baseURL, model, timeout), nil
	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("openai embeddings require an API key")
		}
		return NewOpenAIEmbedder(apiKey, model, timeout), nil
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", provider)
	}
}
