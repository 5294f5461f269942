// Package metric turns raw prediction error into bounded scores: a
// weighted, scale-normalized Euclidean distance over heterogeneous
// physical dimensions, and a family of saturating curves mapping
// distance onto [0, 1].
package metric

import (
	"fmt"
	"math"

	"github.com/orrerynet/orrery/shared"
)

// Discrepancy is the measured distance between a prediction and the
// correct value. Missing is the sentinel maximal distance of an
// absent or malformed prediction; it is never fed to a curve.
type Discrepancy struct {
	Distance float64
	Missing  bool
}

// MissingDiscrepancy is the sentinel for predictions that never
// arrived in scoreable shape.
func MissingDiscrepancy() Discrepancy {
	return Discrepancy{Distance: math.Inf(1), Missing: true}
}

// Distance combines per-dimension errors into a single scale-free
// magnitude: sqrt(sum of w_i * (delta_i / scale_i)^2). Scales are
// strictly positive and weights sum to 1; both are enforced at
// configuration load, not here.
func Distance(prediction, truth, scales, weights []float64) (float64, error) {
	if len(prediction) != len(truth) {
		return 0, fmt.Errorf(
			"%w: prediction has %d dimensions, truth has %d",
			shared.ErrShapeMismatch, len(prediction), len(truth),
		)
	}
	if len(truth) != len(scales) || len(truth) != len(weights) {
		return 0, fmt.Errorf(
			"%w: %d dimensions against %d scales and %d weights",
			shared.ErrShapeMismatch, len(truth), len(scales), len(weights),
		)
	}

	var sum float64
	for i := range truth {
		normalized := (prediction[i] - truth[i]) / scales[i]
		sum += weights[i] * normalized * normalized
	}
	return math.Sqrt(sum), nil
}

// Measure produces the discrepancy for one prediction. Missing
// predictions, shape mismatches and predictions so far off that the
// combined distance overflows all degrade to the Missing sentinel;
// submissions are untrusted and cannot fail scoring. The returned
// distance is finite unless Missing is set.
func Measure(prediction shared.Prediction, truth shared.CorrectValue, scales, weights []float64) Discrepancy {
	if prediction.Missing {
		return MissingDiscrepancy()
	}
	distance, err := Distance(prediction.Values, truth, scales, weights)
	if err != nil {
		return MissingDiscrepancy()
	}
	if math.IsInf(distance, 0) || math.IsNaN(distance) {
		return MissingDiscrepancy()
	}
	return Discrepancy{Distance: distance}
}
