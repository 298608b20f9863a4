package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ModelInfo represents information about an Ollama model
type ModelInfo struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	ModifiedAt string `json:"modified_at"`
}

// ListModelsResponse represents the response from listing models
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// Instruction-tuned families that reliably follow a JSON output format,
// best first.
var extractionModels = []string{
	"qwen2.5",
	"llama3.2",
	"llama3.1",
	"mistral",
	"llama3",
	"gemma2",
}

// ListModels lists all locally available models
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return result.Models, nil
}

// SelectModel returns preferred if it is installed, otherwise the best
// installed model for structured extraction. Embedding-only models are
// never chosen.
func (c *Client) SelectModel(ctx context.Context, preferred string) (string, error) {
	models, err := c.ListModels(ctx)
	if err != nil {
		return "", err
	}
	return selectModel(models, preferred)
}

func selectModel(models []ModelInfo, preferred string) (string, error) {
	var usable []ModelInfo
	for _, m := range models {
		if preferred != "" && (m.Name == preferred || strings.TrimSuffix(m.Name, ":latest") == preferred) {
			return m.Name, nil
		}
		if strings.Contains(strings.ToLower(m.Name), "embed") {
			continue
		}
		usable = append(usable, m)
	}
	if len(usable) == 0 {
		return "", fmt.Errorf("no models available")
	}

	for _, family := range extractionModels {
		for _, m := range usable {
			if strings.Contains(strings.ToLower(m.Name), family) {
				return m.Name, nil
			}
		}
	}

	// Largest remaining model.
	sort.Slice(usable, func(i, j int) bool {
		return usable[i].Size > usable[j].Size
	})
	return usable[0].Name, nil
}
