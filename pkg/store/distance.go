package store

import (
	"fmt"
	"math"

	"github.com/xhad/hrcopilot/internal/types"
)

// Distance computes the distance between two equal-length vectors under m.
// Cosine distance is 1 - cos(a, b); a zero-norm operand yields 1.
func Distance(m types.Metric, a, b []float64) float64 {
	switch m {
	case types.MetricL2:
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return math.Sqrt(sum)
	default:
		var dot, na, nb float64
		for i := range a {
			dot += a[i] * b[i]
			na += a[i] * a[i]
			nb += b[i] * b[i]
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	}
}

func checkCollection(dimension int, metric types.Metric) error {
	if dimension < 1 {
		return fmt.Errorf("%w: dimension must be positive, got %d", types.ErrInvalidConfiguration, dimension)
	}
	if _, err := types.ParseMetric(string(metric)); err != nil || metric == "" {
		return fmt.Errorf("%w: unknown metric %q", types.ErrInvalidConfiguration, metric)
	}
	return nil
}

func checkVector(dimension int, v []float64) error {
	if len(v) != dimension {
		return fmt.Errorf("%w: vector has %d dimensions, collection expects %d", types.ErrDimensionMismatch, len(v), dimension)
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, f := range v {
		out[i] = float64(f)
	}
	return out
}
