package delta

import (
	"context"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/okian/divergence/pkg/metrics"
)

// StanceReader loads one user's signed weight per point.
type StanceReader interface {
	SnapshotStances(ctx context.Context, userID string, pointIDs []string, day time.Time) (map[string]float64, error)
	EndorsementStances(ctx context.Context, userID string, pointIDs []string) (map[string]float64, error)
}

// StanceComputer compares users by the cosine of their stance vectors over a
// cluster. A point's stance is endorse + restake - doubt from the day's
// snapshot, or summed endorsement cred when the user has no snapshot rows
// for the cluster that day.
type StanceComputer struct {
	reader StanceReader
}

var _ PairwiseComputer = (*StanceComputer)(nil)

// NewStanceComputer returns a StanceComputer reading from r.
func NewStanceComputer(r StanceReader) *StanceComputer {
	return &StanceComputer{reader: r}
}

// Compute returns (1 - cos(a, b)) / 2 over the points either user engaged
// with, or NoInteraction when no point carries weight from both users.
func (s *StanceComputer) Compute(ctx context.Context, userA, userB string, c Cluster, snapDay time.Time) (Outcome, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPairwiseLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	if len(c.PointIDs) == 0 {
		return NoInteraction(), nil
	}
	a, err := s.stances(ctx, userA, c.PointIDs, snapDay)
	if err != nil {
		return Outcome{}, err
	}
	b, err := s.stances(ctx, userB, c.PointIDs, snapDay)
	if err != nil {
		return Outcome{}, err
	}

	va, vb, shared := Vectors(c.PointIDs, a, b)
	if !shared {
		return NoInteraction(), nil
	}
	d := Cosine(va, vb)
	if !Finite(d) {
		return Outcome{}, fmt.Errorf("%w: root %s", ErrNonFinite, c.RootID)
	}
	return Outcome{Delta: &d}, nil
}

func (s *StanceComputer) stances(ctx context.Context, userID string, pointIDs []string, day time.Time) (map[string]float64, error) {
	w, err := s.reader.SnapshotStances(ctx, userID, pointIDs, day)
	if err != nil {
		return nil, fmt.Errorf("snapshot stances for %s: %w", userID, err)
	}
	if len(w) > 0 {
		return w, nil
	}
	w, err = s.reader.EndorsementStances(ctx, userID, pointIDs)
	if err != nil {
		return nil, fmt.Errorf("endorsement stances for %s: %w", userID, err)
	}
	return w, nil
}

// Vectors aligns two weight maps over pointIDs, dropping points where both
// weights are zero. shared is true when some point is nonzero for both.
func Vectors(pointIDs []string, a, b map[string]float64) (va, vb []float64, shared bool) {
	va = make([]float64, 0, len(pointIDs))
	vb = make([]float64, 0, len(pointIDs))
	seen := make(map[string]struct{}, len(pointIDs))
	for _, p := range pointIDs {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		x, y := a[p], b[p]
		if x == 0 && y == 0 {
			continue
		}
		if x != 0 && y != 0 {
			shared = true
		}
		va = append(va, x)
		vb = append(vb, y)
	}
	return va, vb, shared
}

// Cosine maps the cosine similarity of a and b onto a delta in [0, 1].
// Zero vectors are treated as orthogonal. Vectors holding NaN or Inf yield NaN.
func Cosine(a, b []float64) float64 {
	ua, okA := unit(a)
	ub, okB := unit(b)
	if !okA || !okB {
		return math.NaN()
	}
	if ua == nil || ub == nil {
		return 0.5
	}
	return Clamp((1 - floats.Dot(ua, ub)) / 2)
}

// unit returns v scaled to length 1. Scaling by the largest magnitude first
// keeps huge and tiny weights from overflowing. A zero vector yields nil.
func unit(v []float64) ([]float64, bool) {
	if len(v) == 0 {
		return nil, true
	}
	if floats.HasNaN(v) {
		return nil, false
	}
	m := math.Max(floats.Max(v), -floats.Min(v))
	switch {
	case math.IsInf(m, 0):
		return nil, false
	case m == 0:
		return nil, true
	}
	u := make([]float64, len(v))
	for i, x := range v {
		u[i] = x / m
	}
	floats.Scale(1/floats.Norm(u, 2), u)
	return u, true
}
