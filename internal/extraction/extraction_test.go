package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/option"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/ollama"
)

func sampleRequest() *Request {
	sid := uuid.New()
	return &Request{
		SessionID: sid,
		Messages: []db.Message{
			{SessionID: sid, Role: db.RoleUser, Content: "What is backpropagation?"},
			{SessionID: sid, Role: db.RoleAssistant, Content: "It's a gradient computation method..."},
		},
		Excerpts: []db.Excerpt{
			{SessionID: sid, DocumentTitle: "Deep Learning", PageNumber: 42, SelectedText: "the chain rule"},
		},
		Credential: "sk-test",
	}
}

func TestBuildTranscript(t *testing.T) {
	req := sampleRequest()
	got := BuildTranscript(req.Messages, req.Excerpts, 0)
	want := strings.Join([]string{
		"=== HIGHLIGHTED TEXT CONTEXTS ===",
		"From 'Deep Learning' (page 42): the chain rule",
		"",
		"=== CONVERSATION MESSAGES ===",
		"[USER]: What is backpropagation?",
		"[ASSISTANT]: It's a gradient computation method...",
	}, "\n")
	if got != want {
		t.Errorf("BuildTranscript =\n%s\nwant\n%s", got, want)
	}

	if got := BuildTranscript(nil, nil, 0); got != "" {
		t.Errorf("empty session transcript = %q", got)
	}
}

func TestBuildTranscriptTruncates(t *testing.T) {
	msgs := []db.Message{{Role: db.RoleUser, Content: strings.Repeat("é", 100)}}
	got := BuildTranscript(msgs, nil, 10)
	if !strings.HasSuffix(got, truncationMarker) {
		t.Fatalf("expected truncation marker, got %q", got)
	}
	body := strings.TrimSuffix(got, truncationMarker)
	if len(body) > 40 {
		t.Errorf("body length %d exceeds 40 bytes", len(body))
	}
	if !strings.HasPrefix(body, "=== CONVERSATION") {
		t.Errorf("body = %q", body)
	}
}

func TestNormalize(t *testing.T) {
	high, low := 1.7, -0.2
	raw := []rawCandidate{
		{Name: "  Backpropagation ", Description: " gradients ", Tags: []string{"ML", " ", "ml"}, ConfidenceScore: &high,
			RelatedConcepts: []string{"Gradient Descent", "gradient descent", ""}},
		{Name: "", Description: "no name"},
		{Name: "No description", Description: "  "},
		{Name: "Chain Rule", Description: "calculus", ConfidenceScore: &low},
		{Name: "Defaulted", Description: "no confidence"},
	}
	got := normalize(raw)
	if len(got) != 3 {
		t.Fatalf("normalize kept %d candidates, want 3: %+v", len(got), got)
	}
	if got[0].Name != "Backpropagation" || got[0].Description != "gradients" || got[0].ConfidenceScore != 1 {
		t.Errorf("first = %+v", got[0])
	}
	if len(got[0].Tags) != 1 || len(got[0].RelatedConcepts) != 1 {
		t.Errorf("lists not cleaned: %+v", got[0])
	}
	if got[1].ConfidenceScore != 0 {
		t.Errorf("negative confidence = %v, want 0", got[1].ConfidenceScore)
	}
	if got[2].ConfidenceScore != defaultConfidence {
		t.Errorf("missing confidence = %v, want %v", got[2].ConfidenceScore, defaultConfidence)
	}
}

func TestDecodeModelJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"plain", `{"concepts":[{"name":"A","description":"a"}]}`, 1, false},
		{"fenced", "```json\n{\"concepts\":[{\"name\":\"A\",\"description\":\"a\"}]}\n```", 1, false},
		{"prose", `Here you go: {"concepts":[]} hope it helps`, 0, false},
		{"empty", "  ", 0, true},
		{"truncated", `{"concepts":[{"name":"A"`, 0, true},
		{"no json", "sorry, I cannot help", 0, true},
		{"bare array", `["Backpropagation", "Gradient Descent"]`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out rawOutput
			err := decodeModelJSON(tt.in, &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(out.Concepts) != tt.want {
				t.Errorf("concepts = %d, want %d", len(out.Concepts), tt.want)
			}
		})
	}

	var out rawOutput
	if err := decodeModelJSON(`{"concepts":[`, &out); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("truncated output err = %v, want ErrUnexpectedEOF", err)
	}
}

func TestOutputSchemaIsStrict(t *testing.T) {
	if outputSchema["additionalProperties"] != false {
		t.Fatalf("root additionalProperties = %v", outputSchema["additionalProperties"])
	}
	props := outputSchema["properties"].(map[string]any)
	concepts := props["concepts"].(map[string]any)
	item := concepts["items"].(map[string]any)
	if item["additionalProperties"] != false {
		t.Errorf("item additionalProperties = %v", item["additionalProperties"])
	}
	required, _ := item["required"].([]string)
	if len(required) != 5 {
		t.Errorf("item required = %v, want all 5 fields", item["required"])
	}
}

func TestHTTPExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var body sidecarRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(body.Messages) != 2 || len(body.Excerpts) != 1 || !strings.Contains(body.Transcript, "[USER]") {
			t.Errorf("request = %+v", body)
		}
		w.Write([]byte(`{"success":true,"concepts":[{"name":"Backpropagation","description":"gradients","tags":["ml"],"confidence_score":0.9,"related_concepts":["Gradient Descent"]}]}`))
	}))
	defer srv.Close()

	e := NewHTTPExtractor(srv.URL, 0, true)
	if !e.RequiresCredential() {
		t.Error("RequiresCredential = false")
	}
	resp, err := e.Extract(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !resp.Success || len(resp.Concepts) != 1 || resp.Concepts[0].ConfidenceScore != 0.9 {
		t.Errorf("response = %+v", resp)
	}
}

func TestHTTPExtractorPassesFailureThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"success":false,"error_message":"rate limited"}`))
	}))
	defer srv.Close()

	resp, err := NewHTTPExtractor(srv.URL, 0, false).Extract(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if resp.Success || resp.ErrorMessage != "rate limited" {
		t.Errorf("response = %+v", resp)
	}
}

func TestHTTPExtractorNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPExtractor(srv.URL, 0, false).Extract(context.Background(), sampleRequest())
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("err = %v, want 502 error", err)
	}
}

func TestOllamaExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			json.NewEncoder(w).Encode(ollama.ListModelsResponse{Models: []ollama.ModelInfo{{Name: "llama3.2:latest"}}})
		case "/api/generate":
			var req ollama.GenerateRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Model != "llama3.2:latest" || req.Format != "json" || req.System == "" {
				t.Errorf("generate request = %+v", req)
			}
			json.NewEncoder(w).Encode(ollama.GenerateResponse{
				Response: `{"concepts":[{"name":"Chain Rule","description":"derivative of compositions","tags":[],"related_concepts":[]}]}`,
				Done:     true,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	e := NewOllamaExtractor(ollama.NewClient(srv.URL, "", time.Second), "", 0)
	if e.RequiresCredential() {
		t.Error("ollama should not require a credential")
	}
	resp, err := e.Extract(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !resp.Success || len(resp.Concepts) != 1 || resp.Concepts[0].ConfidenceScore != defaultConfidence {
		t.Errorf("response = %+v", resp)
	}
}

func TestOllamaExtractorUnparseableOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollama.GenerateResponse{Response: "I refuse", Done: true})
	}))
	defer srv.Close()

	e := NewOllamaExtractor(ollama.NewClient(srv.URL, "", time.Second), "llama3.2", 0)
	e.model = "llama3.2"
	resp, err := e.Extract(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if resp.Success || !strings.Contains(resp.ErrorMessage, "parse") {
		t.Errorf("response = %+v", resp)
	}
}

func TestOpenAIExtractor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/responses") {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		text, _ := json.Marshal(`{"concepts":[{"name":"Backpropagation","description":"gradients","tags":["ml"],"confidence_score":0.9,"related_concepts":["Gradient Descent"]}]}`)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"resp_1","object":"response","created_at":1,"status":"completed","model":"gpt-4o-mini",
			"output":[{"type":"message","id":"msg_1","status":"completed","role":"assistant",
			"content":[{"type":"output_text","annotations":[],"text":` + string(text) + `}]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIExtractor("", 0, option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	resp, err := e.Extract(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !resp.Success || len(resp.Concepts) != 1 || resp.Concepts[0].RelatedConcepts[0] != "Gradient Descent" {
		t.Errorf("response = %+v", resp)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Options{Provider: "openai"}); err != nil {
		t.Errorf("openai: %v", err)
	}
	if _, err := New(Options{Provider: "ollama"}); err == nil {
		t.Error("ollama without client should fail")
	}
	if _, err := New(Options{Provider: "http"}); err == nil {
		t.Error("http without endpoint should fail")
	}
	if _, err := New(Options{Provider: "langgraph"}); err == nil {
		t.Error("unknown provider should fail")
	}
}
