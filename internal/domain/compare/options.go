package compare

import (
	"time"

	"github.com/alitto/pond/v2"

	"github.com/okian/divergence/pkg/logger"
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets the maximum number of concurrent comparisons.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithBatchTimeout bounds how long one batch may run. Candidates still
// running when it fires are settled as failures.
func WithBatchTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithPool runs comparisons on an existing pool instead of creating one.
func WithPool(p pond.Pool) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.pool = p
		}
	}
}

// WithLogger sets the orchestrator's logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}
