// Package config defines service configuration structures and loading hooks.
package config

import (
	"runtime"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects text or json output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the number of assessments waiting for a worker.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of concurrent assessment runs.
	WorkerCount int `koanf:"worker_count"`

	// RunTimeoutMS is the deadline for one assessment run.
	RunTimeoutMS int `koanf:"run_timeout_ms"`

	// StreamMinPollMS and StreamMaxPollMS bound the stream reader's adaptive backoff.
	StreamMinPollMS int `koanf:"stream_min_poll_ms"`
	StreamMaxPollMS int `koanf:"stream_max_poll_ms"`

	// StreamBatchSize caps the events returned by one stream poll.
	StreamBatchSize int `koanf:"stream_batch_size"`

	// ListPageSize and MaxListPageSize drive GET /v1/assessments paging.
	ListPageSize    int `koanf:"list_page_size"`
	MaxListPageSize int `koanf:"max_list_page_size"`

	// StoreDriver is memory or sqlite; SQLiteDSN is used by the latter.
	StoreDriver string `koanf:"store_driver"`
	SQLiteDSN   string `koanf:"sqlite_dsn"`

	// AIProvider is mock, openai or gemini. A live provider without a key runs the mock.
	// An empty ModelName picks the provider default.
	AIProvider    string  `koanf:"ai_provider"`
	OpenAIAPIKey  string  `koanf:"openai_api_key"`
	OpenAIBaseURL string  `koanf:"openai_base_url"`
	GeminiAPIKey  string  `koanf:"gemini_api_key"`
	GeminiBaseURL string  `koanf:"gemini_base_url"`
	ModelName     string  `koanf:"model_name"`
	AITemperature float64 `koanf:"ai_temperature"`

	// MockLatencyMinMS and MockLatencyMaxMS simulate backend latency for the mock.
	MockLatencyMinMS int `koanf:"mock_latency_min_ms"`
	MockLatencyMaxMS int `koanf:"mock_latency_max_ms"`

	// CreditDedupeSize bounds the credit gate's in-process replay cache.
	CreditDedupeSize int `koanf:"credit_dedupe_size"`

	// SeedCredits grants credits to users once, keyed by user id.
	SeedCredits map[string]int64 `koanf:"seed_credits"`
}

// Store drivers.
const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":9080",
		QueueSize:        1024,
		WorkerCount:      runtime.NumCPU() * 2,
		RunTimeoutMS:     300_000,
		StreamMinPollMS:  300,
		StreamMaxPollMS:  3000,
		StreamBatchSize:  50,
		ListPageSize:     20,
		MaxListPageSize:  100,
		StoreDriver:      DriverMemory,
		SQLiteDSN:        "file:fluentops.db",
		AIProvider:       "mock",
		AITemperature:    0.7,
		MockLatencyMinMS: 200,
		MockLatencyMaxMS: 600,
		CreditDedupeSize: 50_000,
	}
}
