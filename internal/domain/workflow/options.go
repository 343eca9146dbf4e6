package workflow

import (
	"time"

	"github.com/okian/fluentops/pkg/logger"
)

// DefaultTimeout is the wall-clock budget of one guarded run.
const DefaultTimeout = 5 * time.Minute

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithExecutorLogger sets the executor's logger.
func WithExecutorLogger(l logger.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithTimeout sets the run deadline.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithGuardLogger sets the guard's logger.
func WithGuardLogger(l logger.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.log = l
		}
	}
}
