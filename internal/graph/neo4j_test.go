package graph

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/matcher"
)

func TestBuildPayload(t *testing.T) {
	session := &db.Session{ID: uuid.New(), Title: "Deep Learning ch. 6"}
	a, b := uuid.New(), uuid.New()
	decisions := []*matcher.Decision{
		{
			ConceptID: a, Name: "Backpropagation", Created: true, Relevance: 0.9,
			Edges: []matcher.Edge{
				{SourceID: a, TargetID: b, Score: 0.8, Inserted: true},
				{SourceID: b, TargetID: a, Score: 0.8, Inserted: true},
			},
		},
		nil,
		{
			ConceptID: b, Name: "Gradient Descent", Relevance: 0.7,
			Edges: []matcher.Edge{{SourceID: a, TargetID: b, Score: 0.8}},
		},
	}

	p := buildPayload(session, decisions, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	if p.Session["id"] != session.ID.String() || p.Session["synced_at"] != "2026-01-02T03:04:05Z" {
		t.Errorf("session = %v", p.Session)
	}
	if len(p.Concepts) != 2 {
		t.Fatalf("concepts = %d, want 2", len(p.Concepts))
	}
	if p.Concepts[0]["relevance"] != 0.9 || p.Concepts[1]["name"] != "Gradient Descent" {
		t.Errorf("concepts = %v", p.Concepts)
	}
	if len(p.Edges) != 2 {
		t.Fatalf("edges = %d, want 2 after dedupe", len(p.Edges))
	}
}

func TestMergeRelatedKeepsFirstSimilarity(t *testing.T) {
	for _, line := range strings.Split(mergeRelatedCypher, "\n") {
		if strings.Contains(line, "r.similarity") && !strings.HasPrefix(strings.TrimSpace(line), "ON CREATE SET") {
			t.Errorf("similarity assigned outside ON CREATE: %q", line)
		}
	}
}

func TestNewWithoutURIDisables(t *testing.T) {
	p, err := New(context.Background(), Config{}, nil)
	if err != nil || p != nil {
		t.Fatalf("New = %v, %v; want nil, nil", p, err)
	}
	if err := p.PublishAnalysis(context.Background(), &db.Session{}, nil); err != nil {
		t.Errorf("nil publisher PublishAnalysis: %v", err)
	}
	if err := p.Close(context.Background()); err != nil {
		t.Errorf("nil publisher Close: %v", err)
	}
}

func TestPublishAnalysisNeo4j(t *testing.T) {
	uri := os.Getenv("CONCEPTD_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("CONCEPTD_TEST_NEO4J_URI not set")
	}
	ctx := context.Background()
	p, err := New(ctx, Config{URI: uri, User: os.Getenv("NEO4J_USER"), Password: os.Getenv("NEO4J_PASSWORD")}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close(ctx)

	a, b := uuid.New(), uuid.New()
	session := &db.Session{ID: uuid.New(), Title: "t"}
	for _, score := range []float64{0.5, 0.9} {
		err = p.PublishAnalysis(ctx, session, []*matcher.Decision{{
			ConceptID: a, Name: "A", Relevance: 1,
			Edges: []matcher.Edge{{SourceID: a, TargetID: b, Score: score}},
		}})
		if err != nil {
			t.Fatalf("PublishAnalysis: %v", err)
		}
	}

	res, err := neo4j.ExecuteQuery(ctx, p.driver,
		`MATCH (:Concept {id: $a})-[r:RELATED]->(:Concept {id: $b}) RETURN r.similarity AS s`,
		map[string]any{"a": a.String(), "b": b.String()}, neo4j.EagerResultTransformer)
	if err != nil || len(res.Records) != 1 {
		t.Fatalf("query edge = %v, %v", res, err)
	}
	if s, _ := res.Records[0].Get("s"); s != 0.5 {
		t.Errorf("similarity = %v, want first score 0.5", s)
	}
}
