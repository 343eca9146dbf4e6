package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/fluentops/internal/client"
	"github.com/okian/fluentops/pkg/logger"
)

// ErrViolations is returned when a stream broke ordering or termination.
var ErrViolations = errors.New("stream invariants violated")

// PercentageMultiplier converts ratios to percentages.
const PercentageMultiplier = 100

// Run executes the load test and returns its statistics. Rejections for
// missing credits or backpressure are counted, not treated as failures.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	log := logger.Named("loadtest")
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("assessments", cfg.Assessments),
		logger.Int("users", cfg.Users),
		logger.Int("concurrency", cfg.Concurrency),
	)

	base := client.New(cfg.BaseURL, "", client.WithTimeout(cfg.Timeout))
	if err := base.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(cfg.Concurrency, 1))
	for i := range cfg.Assessments {
		g.Go(func() error {
			r := runOne(gctx, base.As(userFor(i, cfg.Users)), request(i))
			mu.Lock()
			stats.add(r)
			mu.Unlock()
			if cfg.Verbose {
				log.Debug(gctx, "assessment done", logger.Int("index", i), logger.String("outcome", r.outcome))
			}
			return nil
		})
	}
	_ = g.Wait()

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	slices.Sort(stats.Latencies)
	logStats(ctx, log, stats)

	if len(stats.Violations) > 0 {
		return stats, fmt.Errorf("%w: %d", ErrViolations, len(stats.Violations))
	}
	return stats, ctx.Err()
}

type result struct {
	outcome   string
	latency   time.Duration
	violation string
}

const (
	outcomeSucceeded    = "succeeded"
	outcomeFailed       = "failed"
	outcomeNoCredits    = "no_credits"
	outcomeBackpressure = "backpressure"
	outcomeSubmitError  = "submit_error"
	outcomeStreamError  = "stream_error"
)

func runOne(ctx context.Context, c *client.Client, req client.SubmitRequest) result {
	start := time.Now()
	sub, err := c.Submit(ctx, req)
	switch client.StatusOf(err) {
	case 0:
		if err != nil {
			return result{outcome: outcomeSubmitError}
		}
	case http.StatusPaymentRequired:
		return result{outcome: outcomeNoCredits}
	case http.StatusTooManyRequests:
		return result{outcome: outcomeBackpressure}
	default:
		return result{outcome: outcomeSubmitError}
	}

	last := int64(-1)
	terminals := 0
	var final string
	for ev, serr := range c.Stream(ctx, sub.AssessmentID, -1) {
		if serr != nil {
			return result{outcome: outcomeStreamError}
		}
		if ev.Seq <= last {
			return result{outcome: outcomeStreamError,
				violation: fmt.Sprintf("%s: seq %d after %d", sub.AssessmentID, ev.Seq, last)}
		}
		last = ev.Seq
		if ev.Terminal() {
			terminals++
			final = ev.Kind
		}
	}
	r := result{latency: time.Since(start)}
	switch {
	case terminals != 1:
		r.outcome = outcomeStreamError
		r.violation = fmt.Sprintf("%s: %d terminal events", sub.AssessmentID, terminals)
	case final == "final":
		r.outcome = outcomeSucceeded
	default:
		r.outcome = outcomeFailed
	}
	return r
}

func (s *Stats) add(r result) {
	s.Submitted++
	switch r.outcome {
	case outcomeNoCredits:
		s.NoCredits++
		return
	case outcomeBackpressure:
		s.Backpressure++
		return
	case outcomeSubmitError:
		s.SubmitFailed++
		return
	}
	s.Accepted++
	switch r.outcome {
	case outcomeSucceeded:
		s.Succeeded++
		s.Latencies = append(s.Latencies, r.latency)
	case outcomeFailed:
		s.Failed++
		s.Latencies = append(s.Latencies, r.latency)
	default:
		s.StreamErrors++
	}
	if r.violation != "" {
		s.Violations = append(s.Violations, r.violation)
	}
}

func logStats(ctx context.Context, log logger.Logger, s *Stats) {
	var successRate, perSecond float64
	if s.Accepted > 0 {
		successRate = float64(s.Succeeded) / float64(s.Accepted) * PercentageMultiplier
	}
	if s.Duration > 0 {
		perSecond = float64(s.Submitted) / s.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("submitted", s.Submitted),
		logger.Int("accepted", s.Accepted),
		logger.Int("noCredits", s.NoCredits),
		logger.Int("backpressure", s.Backpressure),
		logger.Int("submitFailed", s.SubmitFailed),
		logger.Int("succeeded", s.Succeeded),
		logger.Int("failed", s.Failed),
		logger.Int("streamErrors", s.StreamErrors),
		logger.Duration("p50", s.Percentile(50)),
		logger.Duration("p95", s.Percentile(95)),
		logger.Duration("duration", s.Duration),
		logger.Float64("successRate", successRate),
		logger.Float64("submissionsPerSecond", perSecond),
	)
}
