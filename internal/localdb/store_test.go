package localdb

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"

	"github.com/geniusreads/conceptd/internal/db"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func vec(values ...float32) *pgvector.Vector {
	v := pgvector.NewVector(values)
	return &v
}

func insertConcept(t *testing.T, s *Store, name string, emb *pgvector.Vector) *db.Concept {
	t.Helper()
	c := &db.Concept{Name: name, Description: name + " description", ConfidenceScore: 0.8, Embedding: emb}
	if _, err := s.InsertConcept(context.Background(), c); err != nil {
		t.Fatalf("InsertConcept(%s): %v", name, err)
	}
	return c
}

func TestCreateSessionKeepsSingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSession(ctx, "first")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := s.CreateSession(ctx, "second")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	active, err := s.GetActiveSession(ctx)
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if active == nil || active.ID != second.ID {
		t.Fatalf("active = %v, want %s", active, second.ID)
	}
	got, _ := s.GetSession(ctx, first.ID)
	if got.Active {
		t.Error("first session should have been deactivated")
	}
	if got.AnalysisStatus != db.StatusNone {
		t.Errorf("status = %q, want none", got.AnalysisStatus)
	}

	if err := s.ActivateSession(ctx, first.ID); err != nil {
		t.Fatalf("ActivateSession: %v", err)
	}
	active, _ = s.GetActiveSession(ctx)
	if active.ID != first.ID {
		t.Errorf("active = %s, want %s", active.ID, first.ID)
	}
	if err := s.ActivateSession(ctx, uuid.New()); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("ActivateSession(unknown) = %v, want ErrNotFound", err)
	}
}

func TestGetForAnalysisOrdersTranscript(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	session, _ := s.CreateSession(ctx, "backprop")

	if _, err := s.AddMessage(ctx, session.ID, db.RoleUser, "What is backpropagation?"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage(ctx, session.ID, db.RoleAssistant, "It's a gradient computation method..."); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if _, err := s.AddMessage(ctx, session.ID, db.Role("system"), "nope"); err == nil {
		t.Error("expected invalid role to be rejected")
	}
	if err := s.AddExcerpt(ctx, &db.Excerpt{
		SessionID: session.ID, DocumentID: uuid.New(), DocumentTitle: "Deep Learning",
		PageNumber: 42, SelectedText: "the chain rule",
	}); err != nil {
		t.Fatalf("AddExcerpt: %v", err)
	}

	snap, err := s.GetForAnalysis(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetForAnalysis: %v", err)
	}
	if len(snap.Messages) != 2 || snap.Messages[0].Role != db.RoleUser || snap.Messages[1].Role != db.RoleAssistant {
		t.Fatalf("messages = %+v", snap.Messages)
	}
	if len(snap.Excerpts) != 1 || snap.Excerpts[0].PageNumber != 42 {
		t.Fatalf("excerpts = %+v", snap.Excerpts)
	}

	missing, err := s.GetForAnalysis(ctx, uuid.New())
	if err != nil || missing != nil {
		t.Errorf("GetForAnalysis(unknown) = %v, %v; want nil, nil", missing, err)
	}
}

func TestAnalysisStatusTransitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	session, _ := s.CreateSession(ctx, "s")

	if err := s.SetAnalysisStatus(ctx, session.ID, db.StatusProcessing); err != nil {
		t.Fatalf("SetAnalysisStatus: %v", err)
	}
	got, _ := s.GetSession(ctx, session.ID)
	if got.AnalysisStatus != db.StatusProcessing || got.Active {
		t.Errorf("after processing: status=%q active=%v", got.AnalysisStatus, got.Active)
	}

	if err := s.EndSession(ctx, session.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := s.SetAnalysisStatus(ctx, session.ID, db.StatusComplete); err != nil {
		t.Fatalf("SetAnalysisStatus: %v", err)
	}
	got, _ = s.GetSession(ctx, session.ID)
	if got.AnalysisStatus != db.StatusComplete || got.CompletedAt == nil {
		t.Errorf("after complete: status=%q completedAt=%v", got.AnalysisStatus, got.CompletedAt)
	}

	if err := s.SetAnalysisStatus(ctx, session.ID, db.AnalysisStatus("done")); err == nil {
		t.Error("expected invalid status to be rejected")
	}
	if err := s.SetAnalysisStatus(ctx, uuid.New(), db.StatusFailed); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("SetAnalysisStatus(unknown) = %v, want ErrNotFound", err)
	}
}

func TestFindByNameIsCaseInsensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	first := insertConcept(t, s, "Gradient Descent", nil)
	insertConcept(t, s, "gradient descent", nil)

	got, err := s.FindByName(ctx, "  GRADIENT descent ")
	if err != nil {
		t.Fatalf("FindByName: %v", err)
	}
	if got == nil || got.ID != first.ID {
		t.Fatalf("FindByName = %v, want oldest %s", got, first.ID)
	}
	none, err := s.FindByName(ctx, "Backpropagation")
	if err != nil || none != nil {
		t.Errorf("FindByName(missing) = %v, %v", none, err)
	}
}

func TestInsertConceptDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	c := &db.Concept{Name: "Chain Rule", Description: "d", Tags: []string{"Calculus", "calculus "}, ConfidenceScore: 1.4}
	id, err := s.InsertConcept(ctx, c)
	if err != nil {
		t.Fatalf("InsertConcept: %v", err)
	}
	got, _ := s.GetConcept(ctx, id)
	if got.SourceChatCount != 1 {
		t.Errorf("SourceChatCount = %d, want 1", got.SourceChatCount)
	}
	if got.ConfidenceScore != 1 {
		t.Errorf("ConfidenceScore = %v, want 1", got.ConfidenceScore)
	}
	if len(got.Tags) != 1 || got.Tags[0] != "calculus" {
		t.Errorf("Tags = %v", got.Tags)
	}
	if got.Embedding != nil {
		t.Errorf("Embedding = %v, want nil", got.Embedding)
	}

	if err := s.IncrementSourceCount(ctx, id); err != nil {
		t.Fatalf("IncrementSourceCount: %v", err)
	}
	got, _ = s.GetConcept(ctx, id)
	if got.SourceChatCount != 2 {
		t.Errorf("SourceChatCount = %d, want 2", got.SourceChatCount)
	}
}

func TestLinkToSessionUpserts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	session, _ := s.CreateSession(ctx, "s")
	c := insertConcept(t, s, "Backpropagation", nil)

	if err := s.LinkToSession(ctx, c.ID, session.ID, 0.4); err != nil {
		t.Fatalf("LinkToSession: %v", err)
	}
	if err := s.LinkToSession(ctx, c.ID, session.ID, 0.9); err != nil {
		t.Fatalf("LinkToSession again: %v", err)
	}

	linked, err := s.ConceptsForSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("ConceptsForSession: %v", err)
	}
	if len(linked) != 1 || linked[0].Score != 0.9 {
		t.Fatalf("ConceptsForSession = %+v, want one link with relevance 0.9", linked)
	}
	refs, err := s.SessionsForConcept(ctx, c.ID)
	if err != nil {
		t.Fatalf("SessionsForConcept: %v", err)
	}
	if len(refs) != 1 || refs[0].SessionID != session.ID || refs[0].Title != "s" {
		t.Errorf("SessionsForConcept = %+v", refs)
	}
}

func TestUpsertRelationshipIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a := insertConcept(t, s, "A", nil)
	b := insertConcept(t, s, "B", nil)

	inserted, err := s.UpsertRelationship(ctx, a.ID, b.ID, db.RelationshipRelated, 0.7)
	if err != nil || !inserted {
		t.Fatalf("first upsert = %v, %v; want true, nil", inserted, err)
	}
	inserted, err = s.UpsertRelationship(ctx, a.ID, b.ID, db.RelationshipRelated, 0.2)
	if err != nil || inserted {
		t.Fatalf("second upsert = %v, %v; want false, nil", inserted, err)
	}
	if _, err := s.UpsertRelationship(ctx, a.ID, a.ID, db.RelationshipRelated, 1); err == nil {
		t.Error("expected self relationship to be rejected")
	}

	rels, err := s.RelationshipsFor(ctx, a.ID)
	if err != nil {
		t.Fatalf("RelationshipsFor: %v", err)
	}
	if len(rels) != 1 || rels[0].TargetConceptID != b.ID || rels[0].SimilarityScore != 0.7 {
		t.Errorf("RelationshipsFor = %+v", rels)
	}
}

func TestSimilaritySearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	query := insertConcept(t, s, "query", vec(1, 0, 0))
	near := insertConcept(t, s, "near", vec(0.9, 0.1, 0))
	mid := insertConcept(t, s, "mid", vec(0.6, 0.8, 0))
	insertConcept(t, s, "far", vec(0, 0, 1))
	insertConcept(t, s, "unembedded", nil)

	results, err := s.SimilaritySearch(ctx, query.Embedding, 0.5, 10, query.ID)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Concept.ID != near.ID || results[1].Concept.ID != mid.ID {
		t.Errorf("order = %s, %s", results[0].Concept.Name, results[1].Concept.Name)
	}
	for i, r := range results {
		if r.Concept.ID == query.ID {
			t.Error("query concept must be excluded")
		}
		if r.Score < 0.5 {
			t.Errorf("score %v below threshold", r.Score)
		}
		if i > 0 && r.Score > results[i-1].Score {
			t.Errorf("scores not non-increasing at %d", i)
		}
	}

	limited, _ := s.SimilaritySearch(ctx, query.Embedding, 0, 1, uuid.Nil)
	if len(limited) != 1 || limited[0].Concept.ID != query.ID {
		t.Errorf("limited = %+v", limited)
	}
	none, _ := s.SimilaritySearch(ctx, nil, 0, 10, uuid.Nil)
	if len(none) != 0 {
		t.Errorf("nil embedding returned %d results", len(none))
	}
}

func TestEmbeddingBackfillQueries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	missing := insertConcept(t, s, "missing", nil)
	insertConcept(t, s, "present", vec(1, 1))

	got, err := s.ConceptsMissingEmbedding(ctx, nil, 10)
	if err != nil {
		t.Fatalf("ConceptsMissingEmbedding: %v", err)
	}
	if len(got) != 1 || got[0].ID != missing.ID {
		t.Fatalf("ConceptsMissingEmbedding = %+v", got)
	}
	if got, _ := s.ConceptsMissingEmbedding(ctx, []uuid.UUID{missing.ID}, 10); len(got) != 0 {
		t.Errorf("excluded concept returned: %+v", got)
	}
	if err := s.UpdateEmbedding(ctx, missing.ID, vec(0.5, 0.5)); err != nil {
		t.Fatalf("UpdateEmbedding: %v", err)
	}
	got, _ = s.ConceptsMissingEmbedding(ctx, nil, 10)
	if len(got) != 0 {
		t.Errorf("still missing: %+v", got)
	}
	c, _ := s.GetConcept(ctx, missing.ID)
	if c.Embedding == nil || len(c.Embedding.Slice()) != 2 {
		t.Errorf("embedding = %v", c.Embedding)
	}
}

func TestTextSearch(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	insertConcept(t, s, "Gradient Descent", nil)
	insertConcept(t, s, "Stochastic gradient", nil)
	insertConcept(t, s, "100% recall", nil)
	insertConcept(t, s, "100 recall", nil)

	got, err := s.TextSearch(ctx, "GRADIENT", 10)
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("TextSearch(gradient) = %d results, want 2", len(got))
	}
	got, _ = s.TextSearch(ctx, "100%", 10)
	if len(got) != 1 || got[0].Name != "100% recall" {
		t.Errorf("TextSearch(100%%) = %+v", got)
	}
}

func TestRenameSessionAndSessionLink(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	session, err := s.CreateSession(ctx, "Untitled session")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RenameSession(ctx, session.ID, "Optimizers"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if err := s.RenameSession(ctx, uuid.New(), "x"); !errors.Is(err, db.ErrNotFound) {
		t.Errorf("rename unknown = %v, want ErrNotFound", err)
	}

	c := insertConcept(t, s, "Adam", nil)
	if ref, err := s.SessionLink(ctx, c.ID, session.ID); err != nil || ref != nil {
		t.Fatalf("unlinked SessionLink = %+v, %v", ref, err)
	}
	if err := s.LinkToSession(ctx, c.ID, session.ID, 0.6); err != nil {
		t.Fatal(err)
	}
	ref, err := s.SessionLink(ctx, c.ID, session.ID)
	if err != nil || ref == nil {
		t.Fatalf("SessionLink = %+v, %v", ref, err)
	}
	if ref.Title != "Optimizers" || ref.RelevanceScore != 0.6 || ref.LinkedAt.IsZero() {
		t.Errorf("ref = %+v", ref)
	}
}
