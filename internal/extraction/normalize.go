package extraction

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const defaultConfidence = 0.5

// rawCandidate is a candidate as the model emits it. ConfidenceScore is a
// pointer so a missing value can default instead of becoming zero.
type rawCandidate struct {
	Name            string   `json:"name" jsonschema:"required"`
	Description     string   `json:"description" jsonschema:"required"`
	Tags            []string `json:"tags" jsonschema:"required"`
	ConfidenceScore *float64 `json:"confidence_score" jsonschema:"required"`
	RelatedConcepts []string `json:"related_concepts" jsonschema:"required"`
}

type rawOutput struct {
	Concepts []rawCandidate `json:"concepts" jsonschema:"required"`
}

// normalize cleans model output: fields are trimmed, candidates without a
// name or description are dropped, confidence is clamped to [0,1] and blank
// or repeated tags and related names are removed.
func normalize(raw []rawCandidate) []Candidate {
	out := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		name := strings.TrimSpace(r.Name)
		desc := strings.TrimSpace(r.Description)
		if name == "" || desc == "" {
			continue
		}
		conf := defaultConfidence
		if r.ConfidenceScore != nil {
			conf = *r.ConfidenceScore
		}
		if conf < 0 {
			conf = 0
		} else if conf > 1 {
			conf = 1
		}
		out = append(out, Candidate{
			Name:            name,
			Description:     desc,
			Tags:            cleanList(r.Tags),
			ConfidenceScore: conf,
			RelatedConcepts: cleanList(r.RelatedConcepts),
		})
	}
	return out
}

// cleanList trims entries and drops blanks and case-insensitive repeats
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		key := strings.ToLower(item)
		if item == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, item)
	}
	return out
}

// parseOutput decodes and normalizes a model's JSON reply
func parseOutput(text string) ([]Candidate, error) {
	var out rawOutput
	if err := decodeModelJSON(text, &out); err != nil {
		return nil, err
	}
	return normalize(out.Concepts), nil
}

// decodeModelJSON unmarshals JSON from a model response, tolerating prose or
// code fences around the object.
func decodeModelJSON(outputText string, out *rawOutput) error {
	s := strings.TrimSpace(outputText)
	if s == "" {
		return io.ErrUnexpectedEOF
	}

	if err := json.Unmarshal([]byte(s), out); err == nil {
		return nil
	}

	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	// An opened object that never closes means the output was cut off.
	if start != -1 && end == -1 {
		return io.ErrUnexpectedEOF
	}
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in model output (len=%d)", len(s))
	}

	sub := s[start : end+1]
	if err := json.Unmarshal([]byte(sub), out); err != nil {
		return fmt.Errorf("failed to unmarshal extracted JSON (len=%d): %w", len(sub), err)
	}
	return nil
}
