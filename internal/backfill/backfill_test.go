package backfill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pgvector/pgvector-go"

	"github.com/geniusreads/conceptd/internal/db"
	"github.com/geniusreads/conceptd/internal/localdb"
)

type countingEmbedder struct {
	calls   atomic.Int64
	failFor string
}

func (e *countingEmbedder) Embed(_ context.Context, text string) (*pgvector.Vector, error) {
	e.calls.Add(1)
	if e.failFor != "" && strings.HasPrefix(text, e.failFor) {
		return nil, errors.New("model not loaded")
	}
	v := pgvector.NewVector([]float32{1, 2, 3})
	return &v, nil
}

func seed(t *testing.T, names ...string) *localdb.Store {
	t.Helper()
	store, err := localdb.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	for _, n := range names {
		if _, err := store.InsertConcept(context.Background(), &db.Concept{Name: n, Description: "d"}); err != nil {
			t.Fatalf("InsertConcept: %v", err)
		}
	}
	return store
}

func TestRunEmbedsAllPages(t *testing.T) {
	store := seed(t, "a", "b", "c", "d", "e")
	emb := &countingEmbedder{}
	p := New(store, emb, 2, 2, nil)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Embedded != 5 || res.Failed != 0 || res.Scanned != 5 {
		t.Errorf("result = %+v", res)
	}
	missing, _ := store.ConceptsMissingEmbedding(context.Background(), nil, 10)
	if len(missing) != 0 {
		t.Errorf("still missing %d embeddings", len(missing))
	}

	res, err = p.Run(context.Background())
	if err != nil || res.Scanned != 0 {
		t.Errorf("second run = %+v, %v; want nothing to do", res, err)
	}
}

func TestRunSkipsFailures(t *testing.T) {
	store := seed(t, "broken", "a", "b")
	emb := &countingEmbedder{failFor: "broken"}
	p := New(store, emb, 1, 1, nil)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Embedded != 2 || res.Failed != 1 {
		t.Errorf("result = %+v, want 2 embedded 1 failed", res)
	}
	if got := emb.calls.Load(); got != 3 {
		t.Errorf("embed calls = %d, want 3", got)
	}
	missing, _ := store.ConceptsMissingEmbedding(context.Background(), nil, 10)
	if len(missing) != 1 || missing[0].Name != "broken" {
		t.Errorf("missing = %v", missing)
	}
}

func TestRunContinuesPastManyFailures(t *testing.T) {
	var names []string
	for i := 0; i < 210; i++ {
		names = append(names, fmt.Sprintf("broken-%03d", i))
	}
	for i := 0; i < 30; i++ {
		names = append(names, fmt.Sprintf("ok-%02d", i))
	}
	store := seed(t, names...)
	p := New(store, &countingEmbedder{failFor: "broken"}, 50, 4, nil)

	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Embedded != 30 || res.Failed != 210 || res.Scanned != 240 {
		t.Errorf("result = %+v, want 30 embedded 210 failed", res)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	store := seed(t, "a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store, &countingEmbedder{}, 10, 1, nil).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
