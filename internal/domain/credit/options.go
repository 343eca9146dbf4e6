package credit

import (
	"github.com/okian/fluentops/internal/domain/dedupe"
	"github.com/okian/fluentops/pkg/logger"
)

// Option configures a Gate.
type Option func(*Gate)

// WithDeduper replaces the in-process fast path for repeated deductions.
func WithDeduper(d dedupe.Deduper) Option {
	return func(g *Gate) {
		if d != nil {
			g.seen = d
		}
	}
}

// WithDedupeSize bounds the default in-process fast path.
func WithDedupeSize(n int) Option {
	return func(g *Gate) {
		g.seen = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(n))
	}
}

// WithLogger sets the gate's logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.log = l
		}
	}
}
