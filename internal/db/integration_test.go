package db

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// openTestDB connects to the database named by CONCEPTD_TEST_DATABASE_URL.
// The database must have the vector extension available; it is truncated.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("CONCEPTD_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CONCEPTD_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := New(ctx, url, 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(db.Close)
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Pool().Exec(ctx,
		`TRUNCATE concept_relationships, concept_chat_links, concepts, highlighted_contexts, chat_messages, chat_sessions`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return db
}

func TestSchemaFilesEmbedded(t *testing.T) {
	names, err := schemaFiles()
	if err != nil {
		t.Fatalf("schemaFiles: %v", err)
	}
	if len(names) == 0 || names[0] != "schema/00001_init.sql" {
		t.Errorf("schemaFiles = %v", names)
	}
}

func TestPostgresSessionLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a, err := db.CreateSession(ctx, "a")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	b, err := db.CreateSession(ctx, "b")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	active, _ := db.GetActiveSession(ctx)
	if active == nil || active.ID != b.ID {
		t.Fatalf("active = %v, want %s", active, b.ID)
	}

	if _, err := db.AddMessage(ctx, a.ID, RoleUser, "What is backpropagation?"); err != nil {
		t.Fatalf("AddMessage: %v", err)
	}
	if err := db.AddExcerpt(ctx, &Excerpt{SessionID: a.ID, DocumentID: uuid.New(), DocumentTitle: "Deep Learning", PageNumber: 42, SelectedText: "chain rule"}); err != nil {
		t.Fatalf("AddExcerpt: %v", err)
	}
	snap, err := db.GetForAnalysis(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetForAnalysis: %v", err)
	}
	if len(snap.Messages) != 1 || len(snap.Excerpts) != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := db.SetAnalysisStatus(ctx, b.ID, StatusProcessing); err != nil {
		t.Fatalf("SetAnalysisStatus: %v", err)
	}
	got, _ := db.GetSession(ctx, b.ID)
	if got.Active || got.AnalysisStatus != StatusProcessing {
		t.Errorf("after processing: %+v", got)
	}
	if err := db.EndSession(ctx, b.ID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	got, _ = db.GetSession(ctx, b.ID)
	if got.CompletedAt == nil {
		t.Error("CompletedAt not stamped")
	}

	if err := db.RenameSession(ctx, a.ID, "Backprop notes"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if err := db.RenameSession(ctx, uuid.New(), "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RenameSession(unknown) = %v, want ErrNotFound", err)
	}
	c := &Concept{Name: "Chain Rule " + uuid.NewString(), Description: "d"}
	if _, err := db.InsertConcept(ctx, c); err != nil {
		t.Fatalf("InsertConcept: %v", err)
	}
	if ref, err := db.SessionLink(ctx, c.ID, a.ID); err != nil || ref != nil {
		t.Fatalf("unlinked SessionLink = %+v, %v", ref, err)
	}
	if err := db.LinkToSession(ctx, c.ID, a.ID, 0.7); err != nil {
		t.Fatalf("LinkToSession: %v", err)
	}
	ref, err := db.SessionLink(ctx, c.ID, a.ID)
	if err != nil || ref == nil || ref.Title != "Backprop notes" || ref.RelevanceScore != 0.7 {
		t.Errorf("SessionLink = %+v, %v", ref, err)
	}
}

func TestPostgresConceptStore(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	mk := func(name string, values ...float32) *Concept {
		c := &Concept{Name: name, Description: name + " description", ConfidenceScore: 0.8}
		if len(values) > 0 {
			v := pgvector.NewVector(values)
			c.Embedding = &v
		}
		if _, err := db.InsertConcept(ctx, c); err != nil {
			t.Fatalf("InsertConcept(%s): %v", name, err)
		}
		return c
	}
	query := mk("Gradient Descent", 1, 0, 0)
	near := mk("Stochastic Gradient Descent", 0.9, 0.1, 0)
	mk("Unrelated", 0, 0, 1)
	mk("Smaller Model", 1, 0)
	unembedded := mk("No Embedding")

	found, err := db.FindByName(ctx, "gradient DESCENT")
	if err != nil || found == nil || found.ID != query.ID {
		t.Fatalf("FindByName = %v, %v", found, err)
	}

	results, err := db.SimilaritySearch(ctx, query.Embedding, 0.5, 10, query.ID)
	if err != nil {
		t.Fatalf("SimilaritySearch: %v", err)
	}
	if len(results) != 1 || results[0].Concept.ID != near.ID || results[0].Score < 0.5 || results[0].Score > 1 {
		t.Fatalf("SimilaritySearch = %+v", results)
	}

	inserted, err := db.UpsertRelationship(ctx, query.ID, near.ID, RelationshipRelated, results[0].Score)
	if err != nil || !inserted {
		t.Fatalf("UpsertRelationship = %v, %v", inserted, err)
	}
	inserted, err = db.UpsertRelationship(ctx, query.ID, near.ID, RelationshipRelated, results[0].Score)
	if err != nil || inserted {
		t.Fatalf("repeat UpsertRelationship = %v, %v", inserted, err)
	}

	missing, err := db.ConceptsMissingEmbedding(ctx, nil, 10)
	if err != nil || len(missing) != 1 {
		t.Fatalf("ConceptsMissingEmbedding = %v, %v", missing, err)
	}
	missing, err = db.ConceptsMissingEmbedding(ctx, []uuid.UUID{unembedded.ID}, 10)
	if err != nil || len(missing) != 0 {
		t.Fatalf("ConceptsMissingEmbedding with exclusion = %v, %v", missing, err)
	}

	text, err := db.TextSearch(ctx, "gradient", 10)
	if err != nil || len(text) != 2 {
		t.Fatalf("TextSearch = %v, %v", text, err)
	}
}
