package utils

import (
	"fmt"
	"math"
)

// CosineSimilarity scores how close two embedding vectors are, in [-1, 1].
func CosineSimilarity(vec1, vec2 []float32) (float32, error) {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0, fmt.Errorf("vectors cannot be empty")
	}
	if len(vec1) != len(vec2) {
		return 0, fmt.Errorf("vectors must have the same dimension")
	}

	var dot, sq1, sq2 float32
	for i := range vec1 {
		dot += vec1[i] * vec2[i]
		sq1 += vec1[i] * vec1[i]
		sq2 += vec2[i] * vec2[i]
	}

	mag1 := float32(math.Sqrt(float64(sq1)))
	mag2 := float32(math.Sqrt(float64(sq2)))
	if mag1 == 0 || mag2 == 0 {
		return 0, nil
	}

	return dot / (mag1 * mag2), nil
}
