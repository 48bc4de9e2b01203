// Package compare fans a reference user out against candidate users and
// ranks the resulting deltas.
package compare

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/okian/divergence/internal/domain/delta"
	"github.com/okian/divergence/internal/domain/model"
	"github.com/okian/divergence/pkg/logger"
	"github.com/okian/divergence/pkg/metrics"
)

const defaultBatchTimeout = 10 * time.Second

// Params describes one comparison batch.
type Params struct {
	ReferenceUserID string
	Clusters        []delta.Cluster
	SnapDay         time.Time
	// Scope labels metrics and logs.
	Scope string
}

// Orchestrator scores candidates concurrently on a bounded pool. A failing
// candidate never affects the others.
type Orchestrator struct {
	pool    pond.Pool
	ownPool bool
	workers int
	timeout time.Duration
	log     logger.Logger
}

// NewOrchestrator returns an Orchestrator. Call Stop to release its pool.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		workers: runtime.NumCPU() * 4,
		timeout: defaultBatchTimeout,
		log:     logger.Get().Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pool == nil {
		o.pool = pond.NewPool(o.workers)
		o.ownPool = true
	}
	return o
}

type settled struct {
	index int
	delta model.UserDelta
}

// CompareAgainstCandidates scores every candidate with scorer and returns one
// UserDelta per candidate in input order. Errors, panics and the batch
// timeout become a nil delta with NoInteraction set for that candidate only.
// Cancellation of ctx itself is returned as an error with no results.
func (o *Orchestrator) CompareAgainstCandidates(ctx context.Context, scorer delta.Scorer, candidates []model.UserCandidate, p Params) ([]model.UserDelta, error) {
	results := make([]model.UserDelta, len(candidates))
	for i, c := range candidates {
		results[i] = failed(c)
	}
	if len(candidates) == 0 {
		return results, nil
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	// Buffered so late tasks never block after a timeout.
	done := make(chan settled, len(candidates))
	group := o.pool.NewGroup()
	for i, c := range candidates {
		group.Submit(func() {
			done <- settled{index: i, delta: o.score(ctx, scorer, c, p)}
		})
	}
	metrics.UpdatePoolStats(int(o.pool.RunningWorkers()), o.pool.WaitingTasks())

	for pending := len(candidates); pending > 0; pending-- {
		select {
		case s := <-done:
			results[s.index] = s.delta
		case <-ctx.Done():
			if err := parent.Err(); err != nil {
				return nil, fmt.Errorf("comparison batch abandoned: %w", err)
			}
			o.log.Warn(ctx, "comparison batch timed out",
				logger.String("scope", p.Scope),
				logger.Int("pending", pending),
				logger.Int("candidates", len(candidates)),
				logger.Error(ctx.Err()))
			for i := 0; i < pending; i++ {
				metrics.RecordPairwiseFailure(p.Scope)
			}
			return drain(done, results), nil
		}
	}
	// Every task has reported; Wait only reaps the group.
	_ = group.Wait()
	// Scorers fail fast on a cancelled context, so those failures are not results.
	if err := parent.Err(); err != nil {
		return nil, fmt.Errorf("comparison batch abandoned: %w", err)
	}
	return results, nil
}

// drain collects results that raced the timeout without waiting for more.
func drain(done <-chan settled, results []model.UserDelta) []model.UserDelta {
	for {
		select {
		case s := <-done:
			results[s.index] = s.delta
		default:
			return results
		}
	}
}

func (o *Orchestrator) score(ctx context.Context, scorer delta.Scorer, c model.UserCandidate, p Params) (out model.UserDelta) {
	out = failed(c)
	defer func() {
		if r := recover(); r != nil {
			o.fail(ctx, c, p, fmt.Errorf("panic: %v", r))
			out = failed(c)
		}
	}()

	res, err := scorer.Score(ctx, p.ReferenceUserID, c.UserID, p.Clusters, p.SnapDay)
	if err != nil {
		o.fail(ctx, c, p, err)
		return out
	}
	if res.Delta != nil && !delta.Finite(*res.Delta) {
		o.fail(ctx, c, p, delta.ErrNonFinite)
		return out
	}
	if !res.Valid() {
		return out
	}
	v := *res.Delta
	out.Delta = &v
	out.NoInteraction = false
	return out
}

func (o *Orchestrator) fail(ctx context.Context, c model.UserCandidate, p Params, err error) {
	metrics.RecordPairwiseFailure(p.Scope)
	o.log.Warn(ctx, "candidate comparison failed",
		logger.String("scope", p.Scope),
		logger.String("candidate", c.UserID),
		logger.Error(err))
}

// Stop waits for running tasks and releases the pool if the orchestrator
// created it.
func (o *Orchestrator) Stop() {
	if o.ownPool {
		o.pool.StopAndWait()
	}
}

// Running reports the pool's active workers.
func (o *Orchestrator) Running() int64 {
	return o.pool.RunningWorkers()
}

func failed(c model.UserCandidate) model.UserDelta {
	return model.UserDelta{
		UserID:          c.UserID,
		Username:        c.Username,
		NoInteraction:   true,
		TotalEngagement: c.TotalEngagement,
	}
}
