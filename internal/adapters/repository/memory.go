package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/divergence/internal/domain/model"
)

// MemoryStore is an in-process Store. Reads are deterministic for a fixed
// data set: sums accumulate in query order and ties sort by user id.
type MemoryStore struct {
	mu     sync.RWMutex
	closed bool

	users      map[string]model.User
	points     map[string]model.Point
	rationales map[string]model.Rationale

	rootByPoint   map[string]string
	membersByRoot map[string][]string

	// endorsements indexed by point, insertion ordered.
	endorsements map[string][]model.Endorsement
	// snapshots[day][point][user] holds at most one row per (day, user, point).
	snapshots map[time.Time]map[string]map[string]model.EngagementSnapshot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]model.User),
		points:        make(map[string]model.Point),
		rationales:    make(map[string]model.Rationale),
		rootByPoint:   make(map[string]string),
		membersByRoot: make(map[string][]string),
		endorsements:  make(map[string][]model.Endorsement),
		snapshots:     make(map[time.Time]map[string]map[string]model.EngagementSnapshot),
	}
}

// AddUser records a user.
func (s *MemoryStore) AddUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// AddPoint records a point.
func (s *MemoryStore) AddPoint(p model.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[p.ID] = p
}

// AddRationale records a rationale and its bridge rows.
func (s *MemoryStore) AddRationale(r model.Rationale) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.PointIDs = append([]string(nil), r.PointIDs...)
	s.rationales[r.ID] = r
}

// AddClusterMembership assigns a point to a root, replacing any previous root.
func (s *MemoryStore) AddClusterMembership(m model.ClusterMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.rootByPoint[m.PointID]; ok {
		s.membersByRoot[prev] = removeString(s.membersByRoot[prev], m.PointID)
	}
	s.rootByPoint[m.PointID] = m.RootID
	members := append(s.membersByRoot[m.RootID], m.PointID)
	sort.Strings(members)
	s.membersByRoot[m.RootID] = members
}

// AddEndorsement appends an endorsement row.
func (s *MemoryStore) AddEndorsement(e model.Endorsement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endorsements[e.PointID] = append(s.endorsements[e.PointID], e)
}

// AddSnapshot upserts the snapshot row for (day, user, point).
func (s *MemoryStore) AddSnapshot(row model.EngagementSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := model.Day(row.SnapDay)
	row.SnapDay = day
	byPoint, ok := s.snapshots[day]
	if !ok {
		byPoint = make(map[string]map[string]model.EngagementSnapshot)
		s.snapshots[day] = byPoint
	}
	byUser, ok := byPoint[row.PointID]
	if !ok {
		byUser = make(map[string]model.EngagementSnapshot)
		byPoint[row.PointID] = byUser
	}
	byUser[row.UserID] = row
}

// Counts returns row counts per entity for stats endpoints.
func (s *MemoryStore) Counts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	endorsements := 0
	for _, rows := range s.endorsements {
		endorsements += len(rows)
	}
	snapshots := 0
	for _, byPoint := range s.snapshots {
		for _, byUser := range byPoint {
			snapshots += len(byUser)
		}
	}
	return map[string]int{
		"users":        len(s.users),
		"points":       len(s.points),
		"rationales":   len(s.rationales),
		"clustered":    len(s.rootByPoint),
		"endorsements": endorsements,
		"snapshots":    snapshots,
	}
}

func (s *MemoryStore) AuthoredPoints(ctx context.Context, userID string) ([]string, error) {
	return s.collectPoints(ctx, func(p model.Point) bool { return p.CreatedBy == userID })
}

func (s *MemoryStore) SpacePoints(ctx context.Context, spaceID string) ([]string, error) {
	return s.collectPoints(ctx, func(p model.Point) bool { return p.SpaceID == spaceID })
}

func (s *MemoryStore) SpaceRationales(ctx context.Context, spaceID string) ([]string, error) {
	return s.collectRationales(ctx, func(r model.Rationale) bool { return r.SpaceID == spaceID })
}

func (s *MemoryStore) TopicRationales(ctx context.Context, topicID string) ([]string, error) {
	return s.collectRationales(ctx, func(r model.Rationale) bool { return r.TopicID == topicID })
}

func (s *MemoryStore) RationalePoints(ctx context.Context, rationaleIDs []string) ([]string, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	out := []string{}
	for _, rid := range rationaleIDs {
		r, ok := s.rationales[rid]
		if !ok {
			continue
		}
		for _, pid := range r.PointIDs {
			if _, exists := s.points[pid]; !exists {
				continue
			}
			if _, dup := seen[pid]; dup {
				continue
			}
			seen[pid] = struct{}{}
			out = append(out, pid)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) RootsForPoints(ctx context.Context, pointIDs []string) (map[string]string, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string)
	for _, pid := range pointIDs {
		if root, ok := s.rootByPoint[pid]; ok {
			out[pid] = root
		}
	}
	return out, nil
}

func (s *MemoryStore) ClusterMembers(ctx context.Context, rootIDs []string) (map[string][]string, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string, len(rootIDs))
	for _, root := range rootIDs {
		if members, ok := s.membersByRoot[root]; ok && len(members) > 0 {
			out[root] = append([]string(nil), members...)
		}
	}
	return out, nil
}

func (s *MemoryStore) SnapshotEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(q.ExcludeUserIDs)
	byPoint := s.snapshots[model.Day(q.SnapDay)]
	totals := make(map[string]float64)
	for _, pid := range dedupe(q.PointIDs) {
		for uid, row := range byPoint[pid] {
			if _, skip := excluded[uid]; skip {
				continue
			}
			totals[uid] += row.Total()
		}
	}
	return s.rankCandidates(totals, q.Limit, model.SourceSnapshot), nil
}

func (s *MemoryStore) LiveEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	excluded := toSet(q.ExcludeUserIDs)
	totals := make(map[string]float64)
	for _, pid := range dedupe(q.PointIDs) {
		for _, e := range s.endorsements[pid] {
			if _, skip := excluded[e.UserID]; skip {
				continue
			}
			totals[e.UserID] += e.Cred
		}
	}
	return s.rankCandidates(totals, q.Limit, model.SourceLive), nil
}

func (s *MemoryStore) UserSnapshotEngagement(ctx context.Context, userID string, pointIDs []string, day time.Time) (float64, error) {
	stances, err := s.snapshotRows(ctx, userID, pointIDs, day, model.EngagementSnapshot.Total)
	if err != nil {
		return 0, err
	}
	return sumOrdered(stances, pointIDs), nil
}

func (s *MemoryStore) UserLiveEngagement(ctx context.Context, userID string, pointIDs []string) (float64, error) {
	creds, err := s.EndorsementStances(ctx, userID, pointIDs)
	if err != nil {
		return 0, err
	}
	return sumOrdered(creds, pointIDs), nil
}

func (s *MemoryStore) SnapshotStances(ctx context.Context, userID string, pointIDs []string, day time.Time) (map[string]float64, error) {
	return s.snapshotRows(ctx, userID, pointIDs, day, model.EngagementSnapshot.Stance)
}

func (s *MemoryStore) EndorsementStances(ctx context.Context, userID string, pointIDs []string) (map[string]float64, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64)
	for _, pid := range dedupe(pointIDs) {
		for _, e := range s.endorsements[pid] {
			if e.UserID == userID {
				out[pid] += e.Cred
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.readable(ctx)
}

// Close marks the store closed; later reads fail with ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) snapshotRows(ctx context.Context, userID string, pointIDs []string, day time.Time, weight func(model.EngagementSnapshot) float64) (map[string]float64, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	byPoint := s.snapshots[model.Day(day)]
	out := make(map[string]float64)
	for _, pid := range dedupe(pointIDs) {
		if row, ok := byPoint[pid][userID]; ok {
			out[pid] = weight(row)
		}
	}
	return out, nil
}

func (s *MemoryStore) collectPoints(ctx context.Context, keep func(model.Point) bool) ([]string, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []string{}
	for id, p := range s.points {
		if keep(p) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) collectRationales(ctx context.Context, keep func(model.Rationale) bool) ([]string, error) {
	if err := s.readable(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []string{}
	for id, r := range s.rationales {
		if keep(r) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

// rankCandidates keeps positive totals ordered by total desc, user id asc.
// Callers hold the read lock.
func (s *MemoryStore) rankCandidates(totals map[string]float64, limit int, source model.EngagementSource) []model.UserCandidate {
	out := make([]model.UserCandidate, 0, len(totals))
	for uid, total := range totals {
		if total <= 0 {
			continue
		}
		out = append(out, model.UserCandidate{
			UserID:          uid,
			Username:        s.users[uid].Username,
			TotalEngagement: total,
			Source:          source,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalEngagement != out[j].TotalEngagement {
			return out[i].TotalEngagement > out[j].TotalEngagement
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) readable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func sumOrdered(values map[string]float64, order []string) float64 {
	var total float64
	for _, pid := range dedupe(order) {
		total += values[pid]
	}
	return total
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func removeString(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}
