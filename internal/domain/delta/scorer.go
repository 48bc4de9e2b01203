package delta

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoClusters is returned when a scorer is given nothing to score over.
var ErrNoClusters = errors.New("no clusters to score")

// SingleRootScorer scores over the first cluster only. It serves point
// comparisons, which always resolve to one root.
type SingleRootScorer struct {
	computer PairwiseComputer
}

// NewSingleRootScorer returns a SingleRootScorer backed by c.
func NewSingleRootScorer(c PairwiseComputer) *SingleRootScorer {
	return &SingleRootScorer{computer: c}
}

func (s *SingleRootScorer) Score(ctx context.Context, referenceUserID, candidateUserID string, clusters []Cluster, snapDay time.Time) (Outcome, error) {
	if len(clusters) == 0 {
		return Outcome{}, ErrNoClusters
	}
	return s.computer.Compute(ctx, referenceUserID, candidateUserID, clusters[0], snapDay)
}

// MultiRootScorer scores every cluster and averages the deltas that were
// computed. Roots without a delta do not count towards the average.
type MultiRootScorer struct {
	computer PairwiseComputer
}

// NewMultiRootScorer returns a MultiRootScorer backed by c.
func NewMultiRootScorer(c PairwiseComputer) *MultiRootScorer {
	return &MultiRootScorer{computer: c}
}

// Score returns the mean delta over clusters. A root that fails is skipped;
// the first error is returned only if every root failed.
func (s *MultiRootScorer) Score(ctx context.Context, referenceUserID, candidateUserID string, clusters []Cluster, snapDay time.Time) (Outcome, error) {
	if len(clusters) == 0 {
		return Outcome{}, ErrNoClusters
	}

	var (
		sum      float64
		n        int
		failures int
		firstErr error
	)
	for _, c := range clusters {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		out, err := s.computer.Compute(ctx, referenceUserID, candidateUserID, c, snapDay)
		if err != nil {
			failures++
			if firstErr == nil {
				firstErr = fmt.Errorf("root %s: %w", c.RootID, err)
			}
			continue
		}
		if !out.Valid() {
			continue
		}
		sum += *out.Delta
		n++
	}

	if failures == len(clusters) {
		return Outcome{}, firstErr
	}
	if n == 0 {
		return NoInteraction(), nil
	}
	mean := Clamp(sum / float64(n))
	return Outcome{Delta: &mean}, nil
}
