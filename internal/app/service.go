// Package service wires the comparison engine together and exposes it to
// the HTTP API and the CLI.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/okian/divergence/internal/adapters/repository"
	"github.com/okian/divergence/internal/domain/cluster"
	"github.com/okian/divergence/internal/domain/compare"
	"github.com/okian/divergence/internal/domain/delta"
	"github.com/okian/divergence/internal/domain/engagement"
	"github.com/okian/divergence/internal/domain/model"
	"github.com/okian/divergence/internal/domain/scope"
	"github.com/okian/divergence/pkg/logger"
	"github.com/okian/divergence/pkg/metrics"
)

// Comparison outcomes recorded in metrics.
const (
	outcomeRanked       = "ranked"
	outcomeEmptyScope   = "empty_scope"
	outcomeNoReference  = "no_reference_engagement"
	outcomeNoClusters   = "no_cluster_data"
	outcomeNoCandidates = "no_candidates"
	outcomeUnranked     = "unranked"
	outcomeError        = "error"
)

// Request is one comparison of a reference user against everyone else
// engaged with a scope.
type Request struct {
	Scope           scope.Kind
	ScopeID         string
	ReferenceUserID string
	// RequestingUserID is carried for auditing only; callers authorize it.
	RequestingUserID string
	// SnapDay selects the engagement snapshot. Zero means today.
	SnapDay time.Time
	// Limit caps each result list. Zero means the default limit.
	Limit int
}

// Service runs comparisons against a read-only store.
type Service struct {
	mu sync.RWMutex

	store repository.Store

	// Engine components, built by Start.
	scopes       *scope.Resolver
	clusters     *cluster.Resolver
	clusterCache *cluster.CachedReader
	engagement   *engagement.Aggregator
	orchestrator *compare.Orchestrator
	computer     delta.PairwiseComputer
	singleRoot   delta.Scorer
	multiRoot    delta.Scorer

	flight singleflight.Group

	// Configuration
	workerCount  int
	defaultLimit int
	maxLimit     int
	candidateCap int
	batchTimeout time.Duration
	// requestTimeout bounds a shared computation once it is detached from
	// the caller that started it.
	requestTimeout time.Duration
	cacheSize      int
	cacheTTL       time.Duration

	// Counters
	comparisons atomic.Int64
	coalesced   atomic.Int64
	earlyExits  atomic.Int64
	failures    atomic.Int64

	started bool
	logger  logger.Logger
}

// New constructs a Service over store with default configuration.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		workerCount:  runtime.NumCPU() * 4,
		defaultLimit: 20,
		maxLimit:     50,
		candidateCap: engagement.DefaultCandidateCap,
		batchTimeout:   10 * time.Second,
		requestTimeout: 30 * time.Second,
		cacheSize:      10000,
		cacheTTL:       5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.requestTimeout < s.batchTimeout {
		s.requestTimeout = s.batchTimeout
	}
	return s
}

// Start builds the engine components. It is safe to call more than once.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.store == nil {
		return fmt.Errorf("start service: %w", repository.ErrUnavailable)
	}

	s.logger.Info(ctx, "starting comparison service...")

	var clusterReader cluster.Reader = s.store
	if s.cacheSize > 0 {
		s.clusterCache = cluster.NewCachedReader(s.store,
			cluster.WithCacheSize(s.cacheSize),
			cluster.WithTTL(s.cacheTTL),
		)
		clusterReader = s.clusterCache
	}
	s.scopes = scope.NewResolver(s.store)
	s.clusters = cluster.NewResolver(clusterReader)
	s.engagement = engagement.NewAggregator(s.store,
		engagement.WithCandidateCap(s.candidateCap),
		engagement.WithLogger(s.logger.Named("engagement")),
	)
	s.orchestrator = compare.NewOrchestrator(
		compare.WithWorkers(s.workerCount),
		compare.WithBatchTimeout(s.batchTimeout),
		compare.WithLogger(s.logger.Named("orchestrator")),
	)
	if s.computer == nil {
		s.computer = delta.NewStanceComputer(s.store)
	}
	s.singleRoot = delta.NewSingleRootScorer(s.computer)
	s.multiRoot = delta.NewMultiRootScorer(s.computer)

	s.started = true
	s.logger.Info(ctx, "comparison service started",
		logger.Int("workers", s.workerCount),
		logger.Int("defaultLimit", s.defaultLimit),
		logger.Int("maxLimit", s.maxLimit),
		logger.Int("candidateCap", s.candidateCap),
		logger.Duration("batchTimeout", s.batchTimeout),
		logger.Duration("requestTimeout", s.requestTimeout),
		logger.Int("clusterCacheSize", s.cacheSize),
	)
	return nil
}

// Stop waits for in-flight comparisons, then releases the worker pool and
// closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.logger.Info(context.Background(), "stopping comparison service...")

	s.orchestrator.Stop()
	if err := s.store.Close(); err != nil {
		s.logger.Warn(context.Background(), "closing store failed", logger.Error(err))
	}

	s.started = false
	s.logger.Info(context.Background(), "comparison service stopped")
}

// Ping reports whether the backing store answers.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ComparePoint compares referenceUserID against users engaged with pointID's cluster.
func (s *Service) ComparePoint(ctx context.Context, referenceUserID, pointID, requestingUserID string, snapDay time.Time, limit int) (model.ComparisonResult, error) {
	return s.Compare(ctx, Request{Scope: scope.Point, ScopeID: pointID, ReferenceUserID: referenceUserID, RequestingUserID: requestingUserID, SnapDay: snapDay, Limit: limit})
}

// CompareRationale compares over the clusters of a rationale's points.
func (s *Service) CompareRationale(ctx context.Context, referenceUserID, rationaleID, requestingUserID string, snapDay time.Time, limit int) (model.ComparisonResult, error) {
	return s.Compare(ctx, Request{Scope: scope.Rationale, ScopeID: rationaleID, ReferenceUserID: referenceUserID, RequestingUserID: requestingUserID, SnapDay: snapDay, Limit: limit})
}

// CompareTopic compares over the clusters of every rationale in a topic.
func (s *Service) CompareTopic(ctx context.Context, referenceUserID, topicID, requestingUserID string, snapDay time.Time, limit int) (model.ComparisonResult, error) {
	return s.Compare(ctx, Request{Scope: scope.Topic, ScopeID: topicID, ReferenceUserID: referenceUserID, RequestingUserID: requestingUserID, SnapDay: snapDay, Limit: limit})
}

// CompareSpace compares over every point owned or referenced in a space.
func (s *Service) CompareSpace(ctx context.Context, referenceUserID, spaceID, requestingUserID string, snapDay time.Time, limit int) (model.ComparisonResult, error) {
	return s.Compare(ctx, Request{Scope: scope.Space, ScopeID: spaceID, ReferenceUserID: referenceUserID, RequestingUserID: requestingUserID, SnapDay: snapDay, Limit: limit})
}

// CompareUser compares over the points authored by targetUserID.
func (s *Service) CompareUser(ctx context.Context, referenceUserID, targetUserID, requestingUserID string, snapDay time.Time, limit int) (model.ComparisonResult, error) {
	return s.Compare(ctx, Request{Scope: scope.User, ScopeID: targetUserID, ReferenceUserID: referenceUserID, RequestingUserID: requestingUserID, SnapDay: snapDay, Limit: limit})
}

// Compare runs one comparison. Empty outcomes are results carrying a
// message; only invalid requests, store failures and cancellation return an
// error. Identical concurrent requests share a single computation, which
// outlives the caller that started it so other waiters still get a result.
func (s *Service) Compare(ctx context.Context, req Request) (model.ComparisonResult, error) {
	req, err := s.normalize(req)
	if err != nil {
		return model.ComparisonResult{}, err
	}

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return model.ComparisonResult{}, ErrNotStarted
	}

	leader := false
	ch := s.flight.DoChan(flightKey(req), func() (any, error) {
		leader = true
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.requestTimeout)
		defer cancel()
		return s.run(detached, req)
	})

	select {
	case r := <-ch:
		if r.Shared && !leader {
			s.coalesced.Add(1)
			metrics.RecordCoalescedComparison()
		}
		if r.Err != nil {
			return model.ComparisonResult{}, r.Err
		}
		return clone(r.Val.(model.ComparisonResult)), nil
	case <-ctx.Done():
		return model.ComparisonResult{}, ctx.Err()
	}
}

// run holds the read lock for the whole computation so Stop cannot release
// the pool or the store underneath it.
func (s *Service) run(ctx context.Context, req Request) (model.ComparisonResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		return model.ComparisonResult{}, ErrNotStarted
	}
	return s.compare(ctx, req)
}

func (s *Service) compare(ctx context.Context, req Request) (res model.ComparisonResult, err error) {
	start := time.Now()
	kind := string(req.Scope)
	outcome := outcomeError
	defer func() {
		s.comparisons.Add(1)
		if err != nil {
			s.failures.Add(1)
		}
		metrics.RecordComparison(kind, outcome)
		metrics.RecordComparisonLatency(kind, float64(time.Since(start).Milliseconds()))
	}()

	log := s.logger.With(
		logger.String("scope", kind),
		logger.String("scope_id", req.ScopeID),
		logger.String("reference_user", req.ReferenceUserID),
	)

	seeds, err := s.scopes.Resolve(ctx, req.Scope, req.ScopeID)
	if err != nil {
		return model.ComparisonResult{}, fmt.Errorf("resolve %s scope: %w", kind, err)
	}
	if seeds.Terminal() {
		outcome = outcomeEmptyScope
		log.Debug(ctx, "scope has no points", logger.String("message", seeds.Message))
		return model.EmptyResult(seeds.Message), nil
	}

	engaged, err := s.engagement.HasEngagement(ctx, req.ReferenceUserID, seeds.PointIDs, req.SnapDay)
	if err != nil {
		return model.ComparisonResult{}, fmt.Errorf("reference engagement: %w", err)
	}
	if !engaged {
		outcome = outcomeNoReference
		s.earlyExits.Add(1)
		log.Debug(ctx, "reference user has not engaged with scope", logger.Int("seeds", len(seeds.PointIDs)))
		return model.EmptyResult(req.Scope.NoEngagementMessage()), nil
	}

	resolution, err := s.clusters.Resolve(ctx, seeds.PointIDs)
	if errors.Is(err, cluster.ErrNoClusterData) {
		outcome = outcomeNoClusters
		log.Debug(ctx, "seed points are not clustered", logger.Int("seeds", len(seeds.PointIDs)))
		return model.EmptyResult(cluster.NoClusterDataMessage), nil
	}
	if err != nil {
		return model.ComparisonResult{}, fmt.Errorf("resolve clusters: %w", err)
	}

	candidates, err := s.engagement.FindEngagedUsers(ctx, resolution.PointIDs,
		[]string{req.ReferenceUserID}, req.SnapDay, req.Limit)
	if err != nil {
		return model.ComparisonResult{}, fmt.Errorf("find engaged users: %w", err)
	}
	if len(candidates) == 0 {
		outcome = outcomeNoCandidates
		return compare.Rank(nil, req.Limit, 0), nil
	}

	clusters := make([]delta.Cluster, 0, len(resolution.RootIDs))
	for _, root := range resolution.RootIDs {
		clusters = append(clusters, delta.Cluster{RootID: root, PointIDs: resolution.Members[root]})
	}
	deltas, err := s.orchestrator.CompareAgainstCandidates(ctx, s.scorerFor(req.Scope), candidates, compare.Params{
		ReferenceUserID: req.ReferenceUserID,
		Clusters:        clusters,
		SnapDay:         req.SnapDay,
		Scope:           kind,
	})
	if err != nil {
		return model.ComparisonResult{}, err
	}

	res = compare.Rank(deltas, req.Limit, len(candidates))
	if res.Message != "" {
		outcome = outcomeUnranked
	} else {
		outcome = outcomeRanked
	}
	log.Debug(ctx, "comparison complete",
		logger.Int("roots", len(clusters)),
		logger.Int("candidates", len(candidates)),
		logger.Int("ranked", res.TotalUsers),
		logger.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (s *Service) scorerFor(kind scope.Kind) delta.Scorer {
	if kind.MultiRoot() {
		return s.multiRoot
	}
	return s.singleRoot
}

func (s *Service) normalize(req Request) (Request, error) {
	if _, err := scope.ParseKind(string(req.Scope)); err != nil {
		return req, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if req.ScopeID == "" {
		return req, fmt.Errorf("%w: missing %s id", ErrInvalidRequest, req.Scope)
	}
	if req.ReferenceUserID == "" {
		return req, fmt.Errorf("%w: missing reference user id", ErrInvalidRequest)
	}
	switch {
	case req.Limit <= 0:
		req.Limit = s.defaultLimit
	case req.Limit > s.maxLimit:
		req.Limit = s.maxLimit
	}
	if req.SnapDay.IsZero() {
		req.SnapDay = model.Today()
	} else {
		req.SnapDay = model.Day(req.SnapDay)
	}
	return req, nil
}

// flightKey identifies requests whose results are interchangeable.
func flightKey(req Request) string {
	return string(req.Scope) + "|" + req.ScopeID + "|" + req.ReferenceUserID + "|" +
		req.SnapDay.Format(model.DayLayout) + "|" + strconv.Itoa(req.Limit)
}

// clone gives each coalesced caller its own slices.
func clone(r model.ComparisonResult) model.ComparisonResult {
	r.MostSimilar = append([]model.UserDelta{}, r.MostSimilar...)
	r.MostDifferent = append([]model.UserDelta{}, r.MostDifferent...)
	return r
}

// Limits returns the default and maximum list sizes.
func (s *Service) Limits() (defaultLimit, maxLimit int) {
	return s.defaultLimit, s.maxLimit
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":      s.started,
		"workerCount":  s.workerCount,
		"defaultLimit": s.defaultLimit,
		"maxLimit":     s.maxLimit,
		"candidateCap": s.candidateCap,
		"comparisons":  s.comparisons.Load(),
		"coalesced":    s.coalesced.Load(),
		"earlyExits":   s.earlyExits.Load(),
		"failures":     s.failures.Load(),
	}
	if s.started {
		stats["runningWorkers"] = s.orchestrator.Running()
		if s.clusterCache != nil {
			stats["clusterCacheEntries"] = s.clusterCache.Len()
		}
	}
	if counter, ok := s.store.(interface{ Counts() map[string]int }); ok {
		stats["store"] = counter.Counts()
	}
	return stats
}
