package service

import (
	"time"

	"github.com/okian/divergence/internal/domain/delta"
	"github.com/okian/divergence/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of concurrent candidate comparisons.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithLimits sets the default and maximum result list sizes.
func WithLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 && maxLimit >= defaultLimit {
			s.defaultLimit = defaultLimit
			s.maxLimit = maxLimit
		}
	}
}

// WithCandidateCap bounds the candidate pool of one comparison.
func WithCandidateCap(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.candidateCap = n
		}
	}
}

// WithBatchTimeout bounds the fan-out phase of one comparison.
func WithBatchTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.batchTimeout = d
		}
	}
}

// WithRequestTimeout bounds one shared comparison end to end. It is raised
// to the batch timeout when shorter.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.requestTimeout = d
		}
	}
}

// WithClusterCache sizes the cluster lookup cache. A zero size disables it.
func WithClusterCache(size int, ttl time.Duration) Option {
	return func(s *Service) {
		if size >= 0 {
			s.cacheSize = size
		}
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithPairwiseComputer replaces the default stance-based delta computation.
func WithPairwiseComputer(c delta.PairwiseComputer) Option {
	return func(s *Service) {
		if c != nil {
			s.computer = c
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}
