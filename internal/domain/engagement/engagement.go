// Package engagement finds users who have engaged with a point set, reading
// the daily snapshot first and live endorsements when no snapshot exists.
package engagement

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/divergence/internal/domain/model"
	"github.com/okian/divergence/pkg/logger"
	"github.com/okian/divergence/pkg/metrics"
)

// DefaultCandidateCap bounds every candidate query.
const DefaultCandidateCap = 100

// Reader is the store surface the aggregator needs.
type Reader interface {
	SnapshotEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error)
	LiveEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error)
	UserSnapshotEngagement(ctx context.Context, userID string, pointIDs []string, day time.Time) (float64, error)
	UserLiveEngagement(ctx context.Context, userID string, pointIDs []string) (float64, error)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithCandidateCap sets the hard upper bound on candidates per query.
func WithCandidateCap(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.cap = n
		}
	}
}

// WithLogger sets the aggregator's logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.log = l
		}
	}
}

// Aggregator ranks users by engagement over a point set.
type Aggregator struct {
	reader Reader
	cap    int
	log    logger.Logger
}

// NewAggregator returns an Aggregator reading from r.
func NewAggregator(r Reader, opts ...Option) *Aggregator {
	a := &Aggregator{
		reader: r,
		cap:    DefaultCandidateCap,
		log:    logger.Get().Named("engagement"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CandidateLimit is the number of candidates fetched for a requested result
// limit: twice the limit, never above the cap.
func (a *Aggregator) CandidateLimit(limit int) int {
	n := limit * 2
	if n <= 0 || n > a.cap {
		return a.cap
	}
	return n
}

// FindEngagedUsers returns users with positive engagement on pointIDs, most
// engaged first, ties by ascending user id. Snapshot rows for snapDay win;
// live endorsements are read only when the snapshot has none.
func (a *Aggregator) FindEngagedUsers(ctx context.Context, pointIDs, excludeUserIDs []string, snapDay time.Time, limit int) ([]model.UserCandidate, error) {
	if len(pointIDs) == 0 {
		return []model.UserCandidate{}, nil
	}
	q := model.EngagementQuery{
		PointIDs:       pointIDs,
		ExcludeUserIDs: excludeUserIDs,
		SnapDay:        model.Day(snapDay),
		Limit:          a.CandidateLimit(limit),
	}

	candidates, err := a.reader.SnapshotEngagement(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("snapshot engagement: %w", err)
	}
	source := model.SourceSnapshot
	if len(candidates) == 0 {
		a.log.Debug(ctx, "no snapshot rows, falling back to live endorsements",
			logger.Int("points", len(pointIDs)),
			logger.String("snap_day", q.SnapDay.Format(model.DayLayout)))
		candidates, err = a.reader.LiveEngagement(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("live engagement: %w", err)
		}
		source = model.SourceLive
	}
	if candidates == nil {
		candidates = []model.UserCandidate{}
	}
	if len(candidates) > q.Limit {
		candidates = candidates[:q.Limit]
	}
	for i := range candidates {
		candidates[i].Source = source
	}

	metrics.RecordCandidateSource(string(source))
	metrics.RecordCandidatePoolSize(len(candidates))
	return candidates, nil
}

// HasEngagement reports whether userID has positive engagement on pointIDs,
// using the same snapshot-then-live source selection.
func (a *Aggregator) HasEngagement(ctx context.Context, userID string, pointIDs []string, snapDay time.Time) (bool, error) {
	if len(pointIDs) == 0 {
		return false, nil
	}
	total, err := a.reader.UserSnapshotEngagement(ctx, userID, pointIDs, model.Day(snapDay))
	if err != nil {
		return false, fmt.Errorf("user snapshot engagement: %w", err)
	}
	if total > 0 {
		return true, nil
	}
	total, err = a.reader.UserLiveEngagement(ctx, userID, pointIDs)
	if err != nil {
		return false, fmt.Errorf("user live engagement: %w", err)
	}
	return total > 0, nil
}
