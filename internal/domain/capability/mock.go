package capability

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Default mock configuration.
const (
	defaultMinLatency = 20 * time.Millisecond
	defaultMaxLatency = 60 * time.Millisecond
	defaultRandomSeed = 42
)

// Canned stage replies. Together they describe one fixed assessment.
const (
	MockDiagnoseReply = `["Used \"go\" instead of \"went\" (past tense)","Used \"buyed\" instead of \"bought\" (irregular verb)"]`
	MockRewriteReply  = `["I went to school yesterday and bought a book.","Yesterday I went to school and purchased a book."]`
	MockDrillsReply   = `["Fill in: I ___ (go) to the store yesterday.","Correct: She buyed a new dress.","Choose: He (went/go/goes) home early."]`
	MockScoreReply    = `{"rubric":{"grammar":40,"vocab":60,"fluency":50,"clarity":65,"naturalness":45},` +
		`"feedback":"**Assessment Summary**\n\nThe text contains basic past tense errors. Focus on irregular verb forms."}`
)

// MockOption configures a Mock.
type MockOption func(*Mock)

// WithLatencyRange sets the simulated backend latency. A zero range disables the delay.
func WithLatencyRange(minLatency, maxLatency time.Duration) MockOption {
	return func(m *Mock) {
		if minLatency >= 0 && maxLatency >= minLatency {
			m.minLatency = minLatency
			m.maxLatency = maxLatency
		}
	}
}

// WithReply overrides the canned reply for one stage.
func WithReply(stage, reply string) MockOption {
	return func(m *Mock) {
		m.replies[stage] = reply
	}
}

// Mock is a deterministic Capability used when no live backend is configured.
// It goes through the same stages as a live run so the event cadence is identical.
type Mock struct {
	replies    map[string]string
	minLatency time.Duration
	maxLatency time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

var _ Capability = (*Mock)(nil)

// NewMock creates a mock with the default canned replies.
func NewMock(opts ...MockOption) *Mock {
	m := &Mock{
		replies: map[string]string{
			"diagnose": MockDiagnoseReply,
			"rewrite":  MockRewriteReply,
			"drills":   MockDrillsReply,
			"score":    MockScoreReply,
		},
		minLatency: defaultMinLatency,
		maxLatency: defaultMaxLatency,
		rng:        rand.New(rand.NewSource(defaultRandomSeed)), //nolint:gosec // deterministic jitter
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Invoke returns the canned reply for p.Stage after a simulated delay.
func (m *Mock) Invoke(ctx context.Context, p PromptSet) (string, error) {
	reply, ok := m.replies[p.Stage]
	if !ok {
		return "", fmt.Errorf("stage %q: %w", p.Stage, ErrUnknownStage)
	}

	latency := m.nextLatency()
	if latency <= 0 {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("context cancelled: %w", err)
		}
		return reply, nil
	}
	t := time.NewTimer(latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	case <-t.C:
	}
	return reply, nil
}

func (m *Mock) nextLatency() time.Duration {
	span := m.maxLatency - m.minLatency
	if span <= 0 {
		return m.minLatency
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.minLatency + time.Duration(m.rng.Int63n(int64(span)))
}
