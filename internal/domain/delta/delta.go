// Package delta computes the normalized disagreement between two users over
// clusters of related points. A delta of 0 is full agreement, 1 is maximal
// disagreement.
package delta

import (
	"context"
	"errors"
	"math"
	"time"
)

// ErrNonFinite is returned when stance weights overflow or are not numbers.
var ErrNonFinite = errors.New("non-finite delta")

// Cluster is one root point together with its member points.
type Cluster struct {
	RootID   string
	PointIDs []string
}

// Outcome is the result of one comparison. Delta is nil exactly when the
// users share no engagement or the comparison could not be made.
type Outcome struct {
	Delta         *float64
	NoInteraction bool
}

// NoInteraction is the outcome for users without overlapping engagement.
func NoInteraction() Outcome {
	return Outcome{NoInteraction: true}
}

// Valid reports whether o carries a usable score.
func (o Outcome) Valid() bool {
	return o.Delta != nil && !o.NoInteraction && Finite(*o.Delta)
}

// PairwiseComputer scores two users over a single cluster. Implementations
// return NoInteraction rather than an error when the users do not overlap.
type PairwiseComputer interface {
	Compute(ctx context.Context, userA, userB string, c Cluster, snapDay time.Time) (Outcome, error)
}

// Scorer scores a candidate against the reference user over every cluster of
// a comparison.
type Scorer interface {
	Score(ctx context.Context, referenceUserID, candidateUserID string, clusters []Cluster, snapDay time.Time) (Outcome, error)
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Clamp bounds v to [0, 1]. NaN is returned unchanged.
func Clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
