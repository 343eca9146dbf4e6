// Package loadtest drives concurrent submissions against a running service and
// checks that every accepted assessment streams to exactly one terminal event.
package loadtest

import (
	"time"
)

// Config holds the load test parameters.
type Config struct {
	BaseURL     string
	Users       int
	Assessments int
	Concurrency int
	Timeout     time.Duration
	Verbose     bool
}

// Stats holds the results of a run.
type Stats struct {
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Submitted    int      `json:"submitted"`
	Accepted     int      `json:"accepted"`
	NoCredits    int      `json:"noCredits"`
	Backpressure int      `json:"backpressure"`
	SubmitFailed int      `json:"submitFailed"`
	Succeeded    int      `json:"succeeded"`
	Failed       int      `json:"failed"`
	StreamErrors int      `json:"streamErrors"`
	Violations   []string `json:"violations,omitempty"`

	// Latencies from submit to the terminal event, sorted ascending.
	Latencies []time.Duration `json:"-"`
}

// Percentile returns the p-th (0..100) latency, or zero when none were recorded.
func (s *Stats) Percentile(p float64) time.Duration {
	if len(s.Latencies) == 0 {
		return 0
	}
	idx := int(p / 100 * float64(len(s.Latencies)-1))
	return s.Latencies[idx]
}
