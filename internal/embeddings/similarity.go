package embeddings

import (
	"math"

	"github.com/pgvector/pgvector-go"
)

// Cosine returns the cosine similarity of a and b clamped to [0,1], which is
// the same value pgvector yields as 1 - (a <=> b) for non-opposed vectors.
// Mismatched or zero-length vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	switch {
	case sim < 0:
		return 0
	case sim > 1:
		return 1
	}
	return sim
}

// Similarity compares two stored embeddings. When either is missing it
// returns fallback.
func Similarity(a, b *pgvector.Vector, fallback float64) float64 {
	if a == nil || b == nil {
		return fallback
	}
	av, bv := a.Slice(), b.Slice()
	if len(av) == 0 || len(bv) == 0 {
		return fallback
	}
	return Cosine(av, bv)
}
