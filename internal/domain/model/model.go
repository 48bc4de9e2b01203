// Package model contains domain models passed between layers.
package model

import "time"

// Point is an atomic claim. Points are immutable once created.
type Point struct {
	ID        string
	SpaceID   string
	CreatedBy string
}

// User is a participant that can engage with points.
type User struct {
	ID       string
	Username string
}

// Rationale groups points under a topic inside a space. Its points are
// referenced through the rationale/point bridge.
type Rationale struct {
	ID       string
	SpaceID  string
	TopicID  string
	PointIDs []string
}

// ClusterMembership maps a point to the root of its semantic cluster.
type ClusterMembership struct {
	PointID string
	RootID  string
}

// Endorsement is a user's cred committed to a point. Several rows for the
// same (point, user) pair are summed.
type Endorsement struct {
	PointID string
	UserID  string
	Cred    float64
}

// EngagementSnapshot is one row of the daily engagement rollup.
type EngagementSnapshot struct {
	SnapDay       time.Time
	UserID        string
	PointID       string
	EndorseWeight float64
	RestakeWeight float64
	DoubtWeight   float64
}

// Total returns the engagement magnitude of the row.
func (s EngagementSnapshot) Total() float64 {
	return s.EndorseWeight + s.RestakeWeight + s.DoubtWeight
}

// Stance returns the signed weight of the row: doubt opposes the point.
func (s EngagementSnapshot) Stance() float64 {
	return s.EndorseWeight + s.RestakeWeight - s.DoubtWeight
}

// EngagementSource names where a candidate's engagement total came from.
type EngagementSource string

// Engagement sources.
const (
	SourceSnapshot EngagementSource = "snapshot"
	SourceLive     EngagementSource = "live"
)

// EngagementQuery restricts a candidate search.
type EngagementQuery struct {
	PointIDs       []string
	ExcludeUserIDs []string
	SnapDay        time.Time
	Limit          int
}

// UserCandidate is a user with nonzero engagement on a point set.
type UserCandidate struct {
	UserID          string
	Username        string
	TotalEngagement float64
	Source          EngagementSource
}
