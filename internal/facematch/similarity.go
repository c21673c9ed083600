package facematch

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the reference minimum similarity for a match.
const DefaultThreshold = 0.7

// DefaultNormTolerance bounds |‖v‖₂ - 1| for a vector to count as unit length.
const DefaultNormTolerance = 1e-4

// Scorer applies a fixed similarity threshold.
type Scorer struct {
	Threshold float64
}

// NewScorer returns a scorer using the given threshold.
func NewScorer(threshold float64) Scorer {
	return Scorer{Threshold: threshold}
}

// Passes reports whether an already computed similarity reaches the threshold.
func (s Scorer) Passes(similarity float64) bool {
	return Clamp(similarity) >= s.Threshold
}

// Similarity returns the cosine similarity of two unit vectors as their dot product.
// The result is clamped to [-1, 1] to absorb float32 drift.
func Similarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(a), Got: len(b)}
	}

	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return Clamp(dot), nil
}

// IsMatch reports whether Similarity(a, b) >= threshold.
func IsMatch(a, b []float32, threshold float64) (bool, error) {
	sim, err := Similarity(a, b)
	if err != nil {
		return false, err
	}
	return sim >= threshold, nil
}

// Clamp limits v to [-1, 1]. NaN is mapped to -1 so it never passes a threshold.
func Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return -1
	}
	return math.Max(-1, math.Min(1, v))
}

// SimilarityFromDistance converts a cosine distance back to a clamped similarity.
func SimilarityFromDistance(distance float64) float64 {
	return Clamp(1 - distance)
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	return floats.Norm(toFloat64(v), 2)
}

// IsUnit reports whether v has unit L2 norm within tol.
func IsUnit(v []float32, tol float64) bool {
	return math.Abs(Norm(v)-1) < tol
}

// Normalize returns v scaled to unit length.
// A zero vector cannot be normalized and is rejected as ErrInvalidEmbedding.
func Normalize(v []float64) ([]float32, error) {
	if len(v) == 0 {
		return nil, InvalidEmbeddingf("empty vector")
	}
	n := floats.Norm(v, 2)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return nil, InvalidEmbeddingf("vector norm is %v", n)
	}

	scaled := make([]float64, len(v))
	copy(scaled, v)
	floats.Scale(1/n, scaled)
	return toFloat32(scaled), nil
}

// NormalizeFloat32 is Normalize for float32 input.
func NormalizeFloat32(v []float32) ([]float32, error) {
	return Normalize(toFloat64(v))
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
