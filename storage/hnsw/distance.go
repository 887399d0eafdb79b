package hnsw

import (
	"math"

	"github.com/poiesic/attrcat/core"
)

// DistanceFunc returns the distance between two equal-width vectors.
// Smaller is closer.
type DistanceFunc func(a, b []float32) float32

// ScoreFunc converts a distance into a similarity score. Larger is more similar.
type ScoreFunc func(distance float32) float32

// CosineDistance returns 1 - cos(a, b). Zero vectors are at distance 1 from everything.
func CosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// NegativeDotProduct returns -(a . b).
func NegativeDotProduct(a, b []float32) float32 {
	var dot float32
	for i := range a {
		dot += a[i] * b[i]
	}
	return -dot
}

// SquaredL2 returns the squared euclidean distance.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// ForMetric returns the distance and score functions for m.
func ForMetric(m core.Metric) (DistanceFunc, ScoreFunc, bool) {
	switch m {
	case core.MetricCosine:
		return CosineDistance, func(d float32) float32 { return 1 - d }, true
	case core.MetricDotProduct:
		return NegativeDotProduct, func(d float32) float32 { return -d }, true
	case core.MetricEuclidean:
		return SquaredL2, func(d float32) float32 {
			return float32(1 / (1 + math.Sqrt(float64(d))))
		}, true
	}
	return nil, nil, false
}
