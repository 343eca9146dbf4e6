package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables read by Load.
const (
	EnvPrefix = "FLUENTOPS_"
	EnvFile   = "FLUENTOPS_CONFIG"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if FLUENTOPS_CONFIG is set
//  3. env (prefix FLUENTOPS_)
func Load(ctx context.Context) (*Config, error) {
	return load(ctx, os.Getenv(EnvFile))
}

func load(_ context.Context, path string) (*Config, error) {
	base := New()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrLoadConfig, path, err)
		}
	}

	// FLUENTOPS_QUEUE_SIZE -> queue_size. Underscores are kept to match the flat koanf tags.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: env: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.StoreDriver != DriverMemory && c.StoreDriver != DriverSQLite:
		return fmt.Errorf("%w: unknown store_driver %q", ErrInvalidConfig, c.StoreDriver)
	case c.StoreDriver == DriverSQLite && c.SQLiteDSN == "":
		return fmt.Errorf("%w: sqlite_dsn must not be empty", ErrInvalidConfig)
	case !knownProvider(c.AIProvider):
		return fmt.Errorf("%w: unknown ai_provider %q", ErrInvalidConfig, c.AIProvider)
	case c.RunTimeoutMS <= 0:
		return fmt.Errorf("%w: run_timeout_ms must be positive", ErrInvalidConfig)
	case c.StreamMinPollMS <= 0 || c.StreamMinPollMS > c.StreamMaxPollMS:
		return fmt.Errorf("%w: stream_min_poll_ms must be positive and not above stream_max_poll_ms", ErrInvalidConfig)
	case c.StreamBatchSize <= 0:
		return fmt.Errorf("%w: stream_batch_size must be positive", ErrInvalidConfig)
	case c.ListPageSize <= 0 || c.ListPageSize > c.MaxListPageSize:
		return fmt.Errorf("%w: list_page_size must be positive and not above max_list_page_size", ErrInvalidConfig)
	case c.MockLatencyMinMS < 0 || c.MockLatencyMinMS > c.MockLatencyMaxMS:
		return fmt.Errorf("%w: mock latency range is invalid", ErrInvalidConfig)
	}
	for user, credits := range c.SeedCredits {
		if credits < 0 {
			return fmt.Errorf("%w: seed_credits for %q must not be negative", ErrInvalidConfig, user)
		}
	}
	return nil
}

func knownProvider(p string) bool {
	switch strings.ToLower(p) {
	case "mock", "openai", "gemini":
		return true
	}
	return false
}

// Watch reloads the FLUENTOPS_CONFIG file whenever it changes and hands the
// freshly validated Config to onChange. Invalid reloads are reported through
// onError and leave the running configuration untouched. Without a config
// file Watch does nothing. Watching stops when ctx is done.
func Watch(ctx context.Context, onChange func(*Config), onError func(error)) error {
	path := os.Getenv(EnvFile)
	if path == "" {
		return nil
	}
	fp := file.Provider(path)
	err := fp.Watch(func(_ any, werr error) {
		if werr != nil {
			onError(fmt.Errorf("%w: watch %s: %w", ErrLoadConfig, path, werr))
			return
		}
		cfg, lerr := load(ctx, path)
		if lerr != nil {
			onError(lerr)
			return
		}
		onChange(cfg)
	})
	if err != nil {
		return fmt.Errorf("%w: watch %s: %w", ErrLoadConfig, path, err)
	}
	go func() {
		<-ctx.Done()
		_ = fp.Unwatch()
	}()
	return nil
}
