package delta_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/divergence/internal/adapters/repository"
	"github.com/okian/divergence/internal/domain/delta"
	"github.com/okian/divergence/internal/domain/model"
)

var day = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func TestStanceComputer(t *testing.T) {
	Convey("Given a stance computer over a memory store", t, func() {
		ctx := context.Background()
		store := repository.NewMemoryStore()
		c := delta.NewStanceComputer(store)
		cl := delta.Cluster{RootID: "r", PointIDs: []string{"p1", "p2", "p3"}}

		snap := func(user, point string, endorse, doubt float64) {
			store.AddSnapshot(model.EngagementSnapshot{SnapDay: day, UserID: user, PointID: point, EndorseWeight: endorse, DoubtWeight: doubt})
		}

		Convey("Proportional stances agree completely", func() {
			snap("a", "p1", 5, 0)
			snap("a", "p2", 3, 0)
			snap("b", "p1", 10, 0)
			snap("b", "p2", 6, 0)
			out, err := c.Compute(ctx, "a", "b", cl, day)
			So(err, ShouldBeNil)
			So(out.Valid(), ShouldBeTrue)
			So(*out.Delta, ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("Opposite stances disagree completely", func() {
			snap("a", "p1", 5, 0)
			snap("b", "p1", 0, 5)
			out, err := c.Compute(ctx, "a", "b", cl, day)
			So(err, ShouldBeNil)
			So(*out.Delta, ShouldAlmostEqual, 1, 1e-9)
		})

		Convey("Partial overlap lands in between", func() {
			snap("a", "p1", 1, 0)
			snap("a", "p2", 1, 0)
			snap("b", "p1", 1, 0)
			out, err := c.Compute(ctx, "a", "b", cl, day)
			So(err, ShouldBeNil)
			So(*out.Delta, ShouldAlmostEqual, 0.1464466, 1e-6)
		})

		Convey("Disjoint engagement is no interaction", func() {
			snap("a", "p1", 1, 0)
			snap("b", "p2", 1, 0)
			out, err := c.Compute(ctx, "a", "b", cl, day)
			So(err, ShouldBeNil)
			So(out.NoInteraction, ShouldBeTrue)
			So(out.Delta, ShouldBeNil)
		})

		Convey("Users without snapshot rows fall back to endorsements", func() {
			snap("a", "p1", 4, 0)
			store.AddEndorsement(model.Endorsement{PointID: "p1", UserID: "b", Cred: 1})
			store.AddEndorsement(model.Endorsement{PointID: "p1", UserID: "b", Cred: 2})
			out, err := c.Compute(ctx, "a", "b", cl, day)
			So(err, ShouldBeNil)
			So(*out.Delta, ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("Very large weights still produce a finite delta", func() {
			snap("a", "p1", 1e200, 0)
			snap("a", "p2", 1e200, 0)
			snap("b", "p1", 1e200, 0)
			snap("b", "p2", 1e200, 0)
			out, err := c.Compute(ctx, "a", "b", cl, day)
			So(err, ShouldBeNil)
			So(out.Valid(), ShouldBeTrue)
			So(*out.Delta, ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("Very large endorsement cred still produces a finite delta", func() {
			store.AddEndorsement(model.Endorsement{PointID: "p1", UserID: "a", Cred: 1e200})
			store.AddEndorsement(model.Endorsement{PointID: "p1", UserID: "b", Cred: 1e200})
			store.AddEndorsement(model.Endorsement{PointID: "p1", UserID: "b", Cred: 1e200})
			out, err := c.Compute(ctx, "a", "b", cl, day)
			So(err, ShouldBeNil)
			So(out.Valid(), ShouldBeTrue)
			So(*out.Delta, ShouldAlmostEqual, 0, 1e-9)
		})

		Convey("An infinite weight is rejected", func() {
			snap("a", "p1", math.Inf(1), 0)
			snap("b", "p1", 1, 0)
			_, err := c.Compute(ctx, "a", "b", cl, day)
			So(errors.Is(err, delta.ErrNonFinite), ShouldBeTrue)
		})

		Convey("An empty cluster is no interaction", func() {
			out, err := c.Compute(ctx, "a", "b", delta.Cluster{RootID: "r"}, day)
			So(err, ShouldBeNil)
			So(out.NoInteraction, ShouldBeTrue)
		})

		Convey("Store failures surface as errors", func() {
			So(store.Close(), ShouldBeNil)
			_, err := c.Compute(ctx, "a", "b", cl, day)
			So(errors.Is(err, repository.ErrClosed), ShouldBeTrue)
		})
	})
}

func TestVectorsAndCosine(t *testing.T) {
	Convey("Vectors drops points nobody engaged with", t, func() {
		va, vb, shared := delta.Vectors(
			[]string{"p1", "p2", "p3", "p1"},
			map[string]float64{"p1": 2, "p3": 1},
			map[string]float64{"p1": -1},
		)
		So(va, ShouldResemble, []float64{2, 1})
		So(vb, ShouldResemble, []float64{-1, 0})
		So(shared, ShouldBeTrue)
	})

	Convey("Cosine stays inside [0, 1]", t, func() {
		So(delta.Cosine([]float64{1, 0}, []float64{0, 1}), ShouldAlmostEqual, 0.5, 1e-9)
		So(delta.Cosine([]float64{0}, []float64{1}), ShouldEqual, 0.5)
		So(delta.Cosine([]float64{3}, []float64{-7}), ShouldAlmostEqual, 1, 1e-9)
		So(delta.Cosine([]float64{1e200, 1e200}, []float64{1e200, 1e200}), ShouldAlmostEqual, 0, 1e-9)
		So(delta.Cosine([]float64{-1e300, 1e300}, []float64{1e300, -1e300}), ShouldAlmostEqual, 1, 1e-9)
	})

	Convey("Cosine of non-finite vectors is NaN", t, func() {
		So(math.IsNaN(delta.Cosine([]float64{math.Inf(1)}, []float64{1})), ShouldBeTrue)
		So(math.IsNaN(delta.Cosine([]float64{1}, []float64{math.NaN()})), ShouldBeTrue)
		So(delta.Finite(delta.Cosine([]float64{1}, []float64{2})), ShouldBeTrue)
	})

	Convey("Outcomes carrying NaN are not valid", t, func() {
		nan := math.NaN()
		So(delta.Outcome{Delta: &nan}.Valid(), ShouldBeFalse)
	})

	Convey("Clamp bounds values", t, func() {
		So(delta.Clamp(-0.1), ShouldEqual, 0.0)
		So(delta.Clamp(1.2), ShouldEqual, 1.0)
		So(delta.Clamp(0.3), ShouldEqual, 0.3)
	})
}

type rootComputer struct {
	outcomes map[string]delta.Outcome
	errs     map[string]error
	calls    []string
}

func (r *rootComputer) Compute(_ context.Context, _, _ string, c delta.Cluster, _ time.Time) (delta.Outcome, error) {
	r.calls = append(r.calls, c.RootID)
	if err := r.errs[c.RootID]; err != nil {
		return delta.Outcome{}, err
	}
	return r.outcomes[c.RootID], nil
}

func clusters(roots ...string) []delta.Cluster {
	out := make([]delta.Cluster, 0, len(roots))
	for _, r := range roots {
		out = append(out, delta.Cluster{RootID: r, PointIDs: []string{r + "-p"}})
	}
	return out
}

func TestScorers(t *testing.T) {
	Convey("Given per-root outcomes", t, func() {
		ctx := context.Background()
		comp := &rootComputer{
			outcomes: map[string]delta.Outcome{
				"r1": {Delta: model.Float(0.2)},
				"r2": {Delta: model.Float(0.6)},
				"r3": delta.NoInteraction(),
			},
			errs: map[string]error{},
		}

		Convey("Multi-root averages only the computed deltas", func() {
			out, err := delta.NewMultiRootScorer(comp).Score(ctx, "ref", "x", clusters("r1", "r2", "r3"), day)
			So(err, ShouldBeNil)
			So(*out.Delta, ShouldAlmostEqual, 0.4, 1e-9)
			So(comp.calls, ShouldResemble, []string{"r1", "r2", "r3"})
		})

		Convey("Multi-root with no computed delta is no interaction", func() {
			out, err := delta.NewMultiRootScorer(comp).Score(ctx, "ref", "x", clusters("r3"), day)
			So(err, ShouldBeNil)
			So(out.NoInteraction, ShouldBeTrue)
			So(out.Delta, ShouldBeNil)
		})

		Convey("Multi-root skips failing roots", func() {
			comp.errs["r2"] = errors.New("boom")
			out, err := delta.NewMultiRootScorer(comp).Score(ctx, "ref", "x", clusters("r1", "r2"), day)
			So(err, ShouldBeNil)
			So(*out.Delta, ShouldAlmostEqual, 0.2, 1e-9)
		})

		Convey("Multi-root fails when every root fails", func() {
			boom := errors.New("boom")
			comp.errs["r1"] = boom
			comp.errs["r2"] = errors.New("other")
			_, err := delta.NewMultiRootScorer(comp).Score(ctx, "ref", "x", clusters("r1", "r2"), day)
			So(errors.Is(err, boom), ShouldBeTrue)
		})

		Convey("Single-root scores the first cluster only", func() {
			out, err := delta.NewSingleRootScorer(comp).Score(ctx, "ref", "x", clusters("r2", "r1"), day)
			So(err, ShouldBeNil)
			So(*out.Delta, ShouldEqual, 0.6)
			So(comp.calls, ShouldResemble, []string{"r2"})
		})

		Convey("Scorers reject empty cluster lists", func() {
			_, err := delta.NewSingleRootScorer(comp).Score(ctx, "ref", "x", nil, day)
			So(err, ShouldEqual, delta.ErrNoClusters)
			_, err = delta.NewMultiRootScorer(comp).Score(ctx, "ref", "x", nil, day)
			So(err, ShouldEqual, delta.ErrNoClusters)
		})
	})
}
