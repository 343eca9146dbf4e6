package service

import (
	"time"

	"github.com/okian/fluentops/internal/adapters/repository"
	"github.com/okian/fluentops/internal/domain/capability"
	"github.com/okian/fluentops/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the persistence backend. The service closes it on Stop.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithCapability sets the text-generation backend.
func WithCapability(c capability.Capability, name string) Option {
	return func(s *Service) {
		if c != nil {
			s.backend = c
			s.backendName = name
		}
	}
}

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum number of queued jobs.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithRunTimeout sets the per-run deadline enforced by the guard.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

// WithPollBounds sets the stream reader's adaptive poll interval range.
func WithPollBounds(minPoll, maxPoll time.Duration) Option {
	return func(s *Service) {
		if minPoll > 0 && maxPoll >= minPoll {
			s.minPoll = minPoll
			s.maxPoll = maxPoll
		}
	}
}

// WithStreamBatchSize sets how many events one stream poll may return.
func WithStreamBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.streamBatch = n
		}
	}
}

// WithPageSizes sets the default and maximum list page sizes.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(s *Service) {
		if defaultSize > 0 && maxSize >= defaultSize {
			s.defaultPageSize = defaultSize
			s.maxPageSize = maxSize
		}
	}
}

// WithDedupeSize bounds the credit gate's in-process fast path.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithSeedCredits grants credits to users once, at first start.
func WithSeedCredits(seed map[string]int64) Option {
	return func(s *Service) {
		s.seedCredits = make(map[string]int64, len(seed))
		for user, amount := range seed {
			if user != "" && amount > 0 {
				s.seedCredits[user] = amount
			}
		}
	}
}

// WithIDGenerator overrides assessment and trace id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
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
