package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/divergence/internal/domain/model"
	"github.com/okian/divergence/pkg/logger"
	"github.com/okian/divergence/pkg/metrics"
	"github.com/okian/divergence/pkg/retry"
)

// Tables read by PostgresStore:
//
//	points(id, space_id, created_by)
//	users(id, username)
//	point_clusters(point_id, root_id)
//	endorsements(point_id, user_id, cred)
//	daily_snapshots(snap_day, user_id, point_id, endorse_weight, restake_weight, doubt_weight)
//	rationales(id, space_id, topic_id)
//	rationale_points(rationale_id, point_id)
const (
	qAuthoredPoints = `SELECT id FROM points WHERE created_by = $1 ORDER BY id`

	qSpacePoints = `SELECT id FROM points WHERE space_id = $1 ORDER BY id`

	qSpaceRationales = `SELECT id FROM rationales WHERE space_id = $1 ORDER BY id`

	qTopicRationales = `SELECT id FROM rationales WHERE topic_id = $1 ORDER BY id`

	qRationalePoints = `
SELECT DISTINCT rp.point_id
FROM rationale_points rp
JOIN points p ON p.id = rp.point_id
WHERE rp.rationale_id = ANY($1)
ORDER BY rp.point_id`

	qRootsForPoints = `SELECT point_id, root_id FROM point_clusters WHERE point_id = ANY($1)`

	qClusterMembers = `
SELECT root_id, point_id
FROM point_clusters
WHERE root_id = ANY($1)
ORDER BY root_id, point_id`

	qSnapshotEngagement = `
SELECT s.user_id, COALESCE(u.username, ''), SUM(s.endorse_weight + s.restake_weight + s.doubt_weight) AS total
FROM daily_snapshots s
LEFT JOIN users u ON u.id = s.user_id
WHERE s.snap_day = $1
  AND s.point_id = ANY($2)
  AND NOT (s.user_id = ANY($3))
GROUP BY s.user_id, u.username
HAVING SUM(s.endorse_weight + s.restake_weight + s.doubt_weight) > 0
ORDER BY total DESC, s.user_id ASC
LIMIT $4`

	qLiveEngagement = `
SELECT e.user_id, COALESCE(u.username, ''), SUM(e.cred) AS total
FROM endorsements e
LEFT JOIN users u ON u.id = e.user_id
WHERE e.point_id = ANY($1)
  AND NOT (e.user_id = ANY($2))
GROUP BY e.user_id, u.username
HAVING SUM(e.cred) > 0
ORDER BY total DESC, e.user_id ASC
LIMIT $3`

	qSnapshotStances = `
SELECT point_id, SUM(endorse_weight + restake_weight - doubt_weight)
FROM daily_snapshots
WHERE snap_day = $1 AND user_id = $2 AND point_id = ANY($3)
GROUP BY point_id`

	qSnapshotTotals = `
SELECT point_id, SUM(endorse_weight + restake_weight + doubt_weight)
FROM daily_snapshots
WHERE snap_day = $1 AND user_id = $2 AND point_id = ANY($3)
GROUP BY point_id`

	qEndorsementStances = `
SELECT point_id, SUM(cred)
FROM endorsements
WHERE user_id = $1 AND point_id = ANY($2)
GROUP BY point_id`
)

// noLimit stands in for an uncapped candidate query.
const noLimit = 1 << 30

// PostgresStore is a Store backed by a pgx connection pool.
type PostgresStore struct {
	pool     *pgxpool.Pool
	log      logger.Logger
	retryCfg retry.Config
	maxConns int32
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to url, retrying with backoff until the pool
// answers a ping.
func NewPostgresStore(ctx context.Context, url string, opts ...Option) (*PostgresStore, error) {
	s := &PostgresStore{
		log:      logger.Get().Named("postgres"),
		retryCfg: retry.DefaultConfig(),
		maxConns: 20,
	}
	for _, opt := range opts {
		opt(s)
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = s.maxConns
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	err = retry.WithBackoff(ctx, s.retryCfg, s.log, "postgres_connection", func(ctx context.Context) error {
		pool, openErr := pgxpool.NewWithConfig(ctx, cfg)
		if openErr != nil {
			return fmt.Errorf("create pool: %w", openErr)
		}
		if pingErr := pool.Ping(ctx); pingErr != nil {
			pool.Close()
			return fmt.Errorf("ping: %w", pingErr)
		}
		s.pool = pool
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	s.log.Info(ctx, "postgres connection pool configured",
		logger.Int("max_conns", int(s.maxConns)))
	return s, nil
}

func (s *PostgresStore) AuthoredPoints(ctx context.Context, userID string) ([]string, error) {
	return s.queryIDs(ctx, "authored_points", qAuthoredPoints, userID)
}

func (s *PostgresStore) SpacePoints(ctx context.Context, spaceID string) ([]string, error) {
	return s.queryIDs(ctx, "space_points", qSpacePoints, spaceID)
}

func (s *PostgresStore) SpaceRationales(ctx context.Context, spaceID string) ([]string, error) {
	return s.queryIDs(ctx, "space_rationales", qSpaceRationales, spaceID)
}

func (s *PostgresStore) TopicRationales(ctx context.Context, topicID string) ([]string, error) {
	return s.queryIDs(ctx, "topic_rationales", qTopicRationales, topicID)
}

func (s *PostgresStore) RationalePoints(ctx context.Context, rationaleIDs []string) ([]string, error) {
	return s.queryIDs(ctx, "rationale_points", qRationalePoints, nonNil(rationaleIDs))
}

func (s *PostgresStore) RootsForPoints(ctx context.Context, pointIDs []string) (map[string]string, error) {
	const name = "roots_for_points"
	start := time.Now()
	rows, err := s.pool.Query(ctx, qRootsForPoints, nonNil(pointIDs))
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	out := make(map[string]string)
	var pointID, rootID string
	_, err = pgx.ForEachRow(rows, []any{&pointID, &rootID}, func() error {
		out[pointID] = rootID
		return nil
	})
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	s.observe(name, start)
	return out, nil
}

func (s *PostgresStore) ClusterMembers(ctx context.Context, rootIDs []string) (map[string][]string, error) {
	const name = "cluster_members"
	start := time.Now()
	rows, err := s.pool.Query(ctx, qClusterMembers, nonNil(rootIDs))
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	out := make(map[string][]string)
	var rootID, pointID string
	_, err = pgx.ForEachRow(rows, []any{&rootID, &pointID}, func() error {
		out[rootID] = append(out[rootID], pointID)
		return nil
	})
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	s.observe(name, start)
	return out, nil
}

func (s *PostgresStore) SnapshotEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error) {
	return s.queryCandidates(ctx, "snapshot_engagement", model.SourceSnapshot, qSnapshotEngagement,
		model.Day(q.SnapDay), nonNil(q.PointIDs), nonNil(q.ExcludeUserIDs), limitArg(q.Limit))
}

func (s *PostgresStore) LiveEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error) {
	return s.queryCandidates(ctx, "live_engagement", model.SourceLive, qLiveEngagement,
		nonNil(q.PointIDs), nonNil(q.ExcludeUserIDs), limitArg(q.Limit))
}

func (s *PostgresStore) UserSnapshotEngagement(ctx context.Context, userID string, pointIDs []string, day time.Time) (float64, error) {
	totals, err := s.queryWeights(ctx, "user_snapshot_engagement", qSnapshotTotals, model.Day(day), userID, nonNil(pointIDs))
	if err != nil {
		return 0, err
	}
	return sumOrdered(totals, pointIDs), nil
}

func (s *PostgresStore) UserLiveEngagement(ctx context.Context, userID string, pointIDs []string) (float64, error) {
	totals, err := s.EndorsementStances(ctx, userID, pointIDs)
	if err != nil {
		return 0, err
	}
	return sumOrdered(totals, pointIDs), nil
}

func (s *PostgresStore) SnapshotStances(ctx context.Context, userID string, pointIDs []string, day time.Time) (map[string]float64, error) {
	return s.queryWeights(ctx, "snapshot_stances", qSnapshotStances, model.Day(day), userID, nonNil(pointIDs))
}

func (s *PostgresStore) EndorsementStances(ctx context.Context, userID string, pointIDs []string) (map[string]float64, error) {
	return s.queryWeights(ctx, "endorsement_stances", qEndorsementStances, userID, nonNil(pointIDs))
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) queryIDs(ctx context.Context, name, query string, args ...any) ([]string, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	s.observe(name, start)
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (s *PostgresStore) queryCandidates(ctx context.Context, name string, source model.EngagementSource, query string, args ...any) ([]model.UserCandidate, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	out := []model.UserCandidate{}
	var c model.UserCandidate
	_, err = pgx.ForEachRow(rows, []any{&c.UserID, &c.Username, &c.TotalEngagement}, func() error {
		c.Source = source
		out = append(out, c)
		return nil
	})
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	s.observe(name, start)
	return out, nil
}

func (s *PostgresStore) queryWeights(ctx context.Context, name, query string, args ...any) (map[string]float64, error) {
	start := time.Now()
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	out := make(map[string]float64)
	var pointID string
	var weight float64
	_, err = pgx.ForEachRow(rows, []any{&pointID, &weight}, func() error {
		out[pointID] = weight
		return nil
	})
	if err != nil {
		return nil, s.fail(name, start, err)
	}
	s.observe(name, start)
	return out, nil
}

func (s *PostgresStore) observe(name string, start time.Time) {
	metrics.RecordStoreQueryLatency(name, float64(time.Since(start).Milliseconds()))
}

func (s *PostgresStore) fail(name string, start time.Time, err error) error {
	s.observe(name, start)
	metrics.RecordStoreError(name)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %w", name, ErrUnavailable, err)
}

// nonNil keeps ANY($n) from binding NULL, which would filter every row.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func limitArg(limit int) int {
	if limit <= 0 {
		return noLimit
	}
	return limit
}
