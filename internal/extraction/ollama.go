package extraction

import (
	"context"
	"fmt"
	"sync"

	"github.com/geniusreads/conceptd/internal/ollama"
)

// OllamaExtractor extracts concepts with a local Ollama model in JSON mode
type OllamaExtractor struct {
	client    *ollama.Client
	preferred string
	maxTokens int

	mu    sync.Mutex
	model string
}

// NewOllamaExtractor creates an Ollama backend. An empty model selects the
// best installed one on first use.
func NewOllamaExtractor(client *ollama.Client, model string, maxContextTokens int) *OllamaExtractor {
	return &OllamaExtractor{client: client, preferred: model, maxTokens: maxContextTokens}
}

// RequiresCredential is false: a local Ollama needs no key. A credential,
// when given, is forwarded as a bearer token.
func (e *OllamaExtractor) RequiresCredential() bool { return false }

func (e *OllamaExtractor) resolveModel(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != "" {
		return e.model, nil
	}
	model, err := e.client.SelectModel(ctx, e.preferred)
	if err != nil {
		return "", fmt.Errorf("failed to select ollama model: %w", err)
	}
	e.model = model
	return model, nil
}

// Extract sends the session transcript to the model and parses its concepts
func (e *OllamaExtractor) Extract(ctx context.Context, req *Request) (*Response, error) {
	model, err := e.resolveModel(ctx)
	if err != nil {
		return nil, err
	}

	client := e.client
	if req.Credential != "" {
		client = client.WithToken(req.Credential)
	}
	out, err := client.Generate(ctx, &ollama.GenerateRequest{
		Model:   model,
		System:  systemPrompt,
		Prompt:  userPrompt(BuildTranscript(req.Messages, req.Excerpts, e.maxTokens)),
		Format:  "json",
		Options: map[string]any{"temperature": 0.1},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama extraction: %w", err)
	}

	concepts, err := parseOutput(out)
	if err != nil {
		return &Response{
			Success:      false,
			ErrorMessage: fmt.Sprintf("failed to parse model output: %v", err),
		}, nil
	}
	return &Response{Success: true, Concepts: concepts}, nil
}
