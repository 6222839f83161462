package embedding

import (
	"math"

	"github.com/DreamCats/ctxportal/internal/logging"
)

// Cosine computes the cosine similarity of two vectors of equal length.
// A zero-magnitude vector, or a length mismatch, scores 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) {
		logging.Warn("Vector dimension mismatch", map[string]interface{}{
			"a": len(a),
			"b": len(b),
		})
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		logging.Debug("Zero-magnitude embedding detected", map[string]interface{}{
			"query_zero":     normA == 0,
			"candidate_zero": normB == 0,
		})
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Rounding can push identical vectors just past 1.
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}
