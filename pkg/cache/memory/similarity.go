package memory

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidEmbedding reports a similarity computation over vectors of
// different lengths, usually a sign the embedding model changed while old
// entries were still cached.
var ErrInvalidEmbedding = errors.New("invalid embedding")

// CosineSimilarity returns the normalized dot product of two equal-length
// vectors. Zero-magnitude vectors have zero similarity to everything.
func CosineSimilarity(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dimension mismatch %d vs %d", ErrInvalidEmbedding, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
