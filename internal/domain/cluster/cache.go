package cluster

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/okian/divergence/pkg/metrics"
)

const (
	defaultCacheSize = 10000
	defaultCacheTTL  = 5 * time.Minute
)

// Option configures a CachedReader.
type Option func(*CachedReader)

// WithCacheSize bounds each cache to n entries.
func WithCacheSize(n int) Option {
	return func(c *CachedReader) {
		if n > 0 {
			c.size = n
		}
	}
}

// WithTTL sets how long cached lookups stay valid.
func WithTTL(ttl time.Duration) Option {
	return func(c *CachedReader) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// CachedReader memoizes point-to-root and root-to-members lookups. Points
// without a cluster are cached too, so a fresh clustering run becomes visible
// once their entries expire.
type CachedReader struct {
	next    Reader
	size    int
	ttl     time.Duration
	roots   *expirable.LRU[string, string]
	members *expirable.LRU[string, []string]
}

// NewCachedReader wraps next with expiring LRU caches.
func NewCachedReader(next Reader, opts ...Option) *CachedReader {
	c := &CachedReader{
		next: next,
		size: defaultCacheSize,
		ttl:  defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.roots = expirable.NewLRU[string, string](c.size, nil, c.ttl)
	c.members = expirable.NewLRU[string, []string](c.size, nil, c.ttl)
	return c
}

// RootsForPoints serves cached roots and fetches the rest in one call.
func (c *CachedReader) RootsForPoints(ctx context.Context, pointIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(pointIDs))
	var missing []string
	for _, id := range pointIDs {
		root, ok := c.roots.Get(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		metrics.RecordClusterCacheHit()
		if root != "" {
			out[id] = root
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	for range missing {
		metrics.RecordClusterCacheMiss()
	}
	fetched, err := c.next.RootsForPoints(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		root := fetched[id]
		c.roots.Add(id, root)
		if root != "" {
			out[id] = root
		}
	}
	return out, nil
}

// ClusterMembers serves cached member lists and fetches the rest in one call.
func (c *CachedReader) ClusterMembers(ctx context.Context, rootIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(rootIDs))
	var missing []string
	for _, id := range rootIDs {
		pts, ok := c.members.Get(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		metrics.RecordClusterCacheHit()
		if len(pts) > 0 {
			out[id] = append([]string(nil), pts...)
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	for range missing {
		metrics.RecordClusterCacheMiss()
	}
	fetched, err := c.next.ClusterMembers(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, id := range missing {
		pts := append([]string(nil), fetched[id]...)
		c.members.Add(id, pts)
		if len(pts) > 0 {
			out[id] = append([]string(nil), pts...)
		}
	}
	return out, nil
}

// Len returns the number of cached entries across both caches.
func (c *CachedReader) Len() int {
	return c.roots.Len() + c.members.Len()
}

// Purge drops every cached entry.
func (c *CachedReader) Purge() {
	c.roots.Purge()
	c.members.Purge()
}
