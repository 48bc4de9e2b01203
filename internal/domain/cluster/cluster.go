// Package cluster expands seed points into the semantic clusters they
// belong to.
package cluster

import (
	"context"
	"fmt"
	"sort"
)

// Reader is the store surface the resolver needs.
type Reader interface {
	// RootsForPoints maps each clustered point to its root.
	RootsForPoints(ctx context.Context, pointIDs []string) (map[string]string, error)
	// ClusterMembers returns the member points of each root.
	ClusterMembers(ctx context.Context, rootIDs []string) (map[string][]string, error)
}

// Resolution is the cluster expansion of a seed set.
type Resolution struct {
	// RootIDs are the distinct roots touched by the seeds, ascending.
	RootIDs []string
	// PointIDs is every member of every root, ascending.
	PointIDs []string
	// Members lists each root's points, ascending.
	Members map[string][]string
}

// Resolver maps seed points to cluster roots and their members.
type Resolver struct {
	reader Reader
}

// NewResolver returns a Resolver reading from r.
func NewResolver(r Reader) *Resolver {
	return &Resolver{reader: r}
}

// Resolve expands seeds into full clusters. It returns ErrNoClusterData when
// none of the seeds has been clustered.
func (r *Resolver) Resolve(ctx context.Context, seeds []string) (Resolution, error) {
	if len(seeds) == 0 {
		return Resolution{}, ErrNoClusterData
	}

	roots, err := r.reader.RootsForPoints(ctx, seeds)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup cluster roots: %w", err)
	}
	if len(roots) == 0 {
		return Resolution{}, ErrNoClusterData
	}

	seedsByRoot := make(map[string][]string)
	for _, seed := range seeds {
		if root, ok := roots[seed]; ok {
			seedsByRoot[root] = append(seedsByRoot[root], seed)
		}
	}
	rootIDs := make([]string, 0, len(seedsByRoot))
	for root := range seedsByRoot {
		rootIDs = append(rootIDs, root)
	}
	sort.Strings(rootIDs)

	members, err := r.reader.ClusterMembers(ctx, rootIDs)
	if err != nil {
		return Resolution{}, fmt.Errorf("lookup cluster members: %w", err)
	}

	res := Resolution{
		RootIDs: rootIDs,
		Members: make(map[string][]string, len(rootIDs)),
	}
	seen := make(map[string]struct{})
	for _, root := range rootIDs {
		pts := members[root]
		if len(pts) == 0 {
			pts = seedsByRoot[root]
		}
		pts = sortedUnique(pts)
		res.Members[root] = pts
		for _, p := range pts {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			res.PointIDs = append(res.PointIDs, p)
		}
	}
	sort.Strings(res.PointIDs)
	return res, nil
}

func sortedUnique(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
