package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/pgvector/pgvector-go"
)

// OpenAIEmbedder generates text embeddings with the OpenAI embeddings API
type OpenAIEmbedder struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIEmbedder creates an embedder authenticated with apiKey. Extra
// request options (base URL, HTTP client) are appended after the key.
func NewOpenAIEmbedder(apiKey, model string, timeout time.Duration, opts ...option.RequestOption) *OpenAIEmbedder {
	if model == "" || model == "nomic-embed-text" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIEmbedder{
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}
}

// Embed generates an embedding for the given text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (*pgvector.Vector, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding returned")
	}

	values := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		values[i] = float32(v)
	}
	vec := pgvector.NewVector(values)
	return &vec, nil
}
