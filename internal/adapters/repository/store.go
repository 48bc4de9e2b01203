// Package repository provides the read-only stores the comparison engine
// queries: points, rationales, clusters, endorsements and daily snapshots.
package repository

import (
	"context"
	"time"

	"github.com/okian/divergence/internal/domain/model"
)

// Store is the full read surface of a backing store. Engine components depend
// on narrower interfaces declared where they are consumed.
type Store interface {
	// AuthoredPoints returns the ids of points created by userID.
	AuthoredPoints(ctx context.Context, userID string) ([]string, error)
	// SpacePoints returns the ids of points owned by spaceID.
	SpacePoints(ctx context.Context, spaceID string) ([]string, error)
	// SpaceRationales returns the ids of rationales in spaceID.
	SpaceRationales(ctx context.Context, spaceID string) ([]string, error)
	// TopicRationales returns the ids of rationales filed under topicID.
	TopicRationales(ctx context.Context, topicID string) ([]string, error)
	// RationalePoints returns the distinct existing points referenced by the rationales.
	RationalePoints(ctx context.Context, rationaleIDs []string) ([]string, error)

	// RootsForPoints maps each clustered point to its root. Unclustered points are absent.
	RootsForPoints(ctx context.Context, pointIDs []string) (map[string]string, error)
	// ClusterMembers returns every member point of each root, sorted.
	ClusterMembers(ctx context.Context, rootIDs []string) (map[string][]string, error)

	// SnapshotEngagement aggregates snapshot weights per user for q.SnapDay.
	SnapshotEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error)
	// LiveEngagement aggregates endorsement cred per user.
	LiveEngagement(ctx context.Context, q model.EngagementQuery) ([]model.UserCandidate, error)
	// UserSnapshotEngagement sums one user's snapshot weights over pointIDs for day.
	UserSnapshotEngagement(ctx context.Context, userID string, pointIDs []string, day time.Time) (float64, error)
	// UserLiveEngagement sums one user's endorsement cred over pointIDs.
	UserLiveEngagement(ctx context.Context, userID string, pointIDs []string) (float64, error)

	// SnapshotStances returns one user's signed snapshot weight per point for day.
	SnapshotStances(ctx context.Context, userID string, pointIDs []string, day time.Time) (map[string]float64, error)
	// EndorsementStances returns one user's summed cred per point.
	EndorsementStances(ctx context.Context, userID string, pointIDs []string) (map[string]float64, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
	// Close releases store resources.
	Close() error
}
