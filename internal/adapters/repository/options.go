package repository

import (
	"github.com/okian/divergence/pkg/logger"
	"github.com/okian/divergence/pkg/retry"
)

// Option applies a configuration option to the PostgresStore.
type Option func(*PostgresStore)

// WithMaxConns caps the connection pool size.
func WithMaxConns(n int32) Option {
	return func(s *PostgresStore) {
		if n > 0 {
			s.maxConns = n
		}
	}
}

// WithRetryConfig sets the backoff used while connecting.
func WithRetryConfig(cfg retry.Config) Option {
	return func(s *PostgresStore) {
		s.retryCfg = cfg
	}
}

// WithLogger sets the logger used by the store.
func WithLogger(l logger.Logger) Option {
	return func(s *PostgresStore) {
		if l != nil {
			s.log = l
		}
	}
}
