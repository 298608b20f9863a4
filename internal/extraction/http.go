package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPExtractor calls an out-of-process extraction service that accepts the
// transcript as JSON and answers with a Response.
type HTTPExtractor struct {
	endpoint         string
	maxTokens        int
	credentialNeeded bool
	httpClient       *http.Client
}

// NewHTTPExtractor creates a sidecar backend posting to endpoint
func NewHTTPExtractor(endpoint string, maxContextTokens int, credentialNeeded bool) *HTTPExtractor {
	return &HTTPExtractor{
		endpoint:         endpoint,
		maxTokens:        maxContextTokens,
		credentialNeeded: credentialNeeded,
		httpClient:       &http.Client{Timeout: 10 * time.Minute},
	}
}

// RequiresCredential reports whether the sidecar was configured to need one
func (e *HTTPExtractor) RequiresCredential() bool { return e.credentialNeeded }

type sidecarMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type sidecarExcerpt struct {
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	PageNumber    int    `json:"page_number"`
	SelectedText  string `json:"selected_text"`
}

type sidecarRequest struct {
	SessionID  string           `json:"session_id"`
	Transcript string           `json:"transcript"`
	Messages   []sidecarMessage `json:"messages"`
	Excerpts   []sidecarExcerpt `json:"excerpts"`
}

type sidecarResponse struct {
	Success      bool           `json:"success"`
	Concepts     []rawCandidate `json:"concepts"`
	ErrorMessage string         `json:"error_message"`
}

// Extract posts the session to the sidecar. A sidecar-reported failure is
// returned as an unsuccessful Response with its message intact.
func (e *HTTPExtractor) Extract(ctx context.Context, req *Request) (*Response, error) {
	body := sidecarRequest{
		SessionID:  req.SessionID.String(),
		Transcript: BuildTranscript(req.Messages, req.Excerpts, e.maxTokens),
		Messages:   make([]sidecarMessage, 0, len(req.Messages)),
		Excerpts:   make([]sidecarExcerpt, 0, len(req.Excerpts)),
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, sidecarMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, x := range req.Excerpts {
		body.Excerpts = append(body.Excerpts, sidecarExcerpt{
			DocumentID:    x.DocumentID.String(),
			DocumentTitle: x.DocumentTitle,
			PageNumber:    x.PageNumber,
			SelectedText:  x.SelectedText,
		})
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Credential != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credential)
	}

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var out sidecarResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("extraction service error: %d - %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !out.Success {
		msg := out.ErrorMessage
		if msg == "" {
			msg = fmt.Sprintf("extraction service returned status %d", resp.StatusCode)
		}
		return &Response{Success: false, ErrorMessage: msg}, nil
	}
	return &Response{Success: true, Concepts: normalize(out.Concepts)}, nil
}
