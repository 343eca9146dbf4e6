package config_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/okian/fluentops/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfigLoader(t *testing.T) {
	convey.Convey("Given a config loader", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		convey.Convey("When loading config with defaults only", func() {
			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load successfully with defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 1024)
				convey.So(cfg.RunTimeoutMS, convey.ShouldEqual, 300_000)
				convey.So(cfg.SeedCredits, convey.ShouldBeEmpty)
			})
		})

		convey.Convey("When loading config with environment variables", func() {
			_ = os.Setenv("FLUENTOPS_ADDR", ":8080")
			_ = os.Setenv("FLUENTOPS_QUEUE_SIZE", "64")
			_ = os.Setenv("FLUENTOPS_WORKER_COUNT", "16")
			_ = os.Setenv("FLUENTOPS_RUN_TIMEOUT_MS", "1000")
			_ = os.Setenv("FLUENTOPS_AI_PROVIDER", "openai")
			_ = os.Setenv("FLUENTOPS_OPENAI_API_KEY", "sk-test")
			_ = os.Setenv("FLUENTOPS_AI_TEMPERATURE", "0.2")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should override defaults with env vars", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.QueueSize, convey.ShouldEqual, 64)
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 16)
				convey.So(cfg.RunTimeoutMS, convey.ShouldEqual, 1000)
				convey.So(cfg.AIProvider, convey.ShouldEqual, "openai")
				convey.So(cfg.OpenAIAPIKey, convey.ShouldEqual, "sk-test")
				convey.So(cfg.AITemperature, convey.ShouldEqual, 0.2)
			})
		})

		convey.Convey("When loading config with a YAML file", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
store_driver: sqlite
sqlite_dsn: "file:test.db"
stream_min_poll_ms: 100
stream_max_poll_ms: 1000
seed_credits:
  alice: 3
  bob: 1
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FLUENTOPS_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should load from the file and keep other defaults", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":9090")
				convey.So(cfg.StoreDriver, convey.ShouldEqual, config.DriverSQLite)
				convey.So(cfg.SQLiteDSN, convey.ShouldEqual, "file:test.db")
				convey.So(cfg.StreamMinPollMS, convey.ShouldEqual, 100)
				convey.So(cfg.StreamMaxPollMS, convey.ShouldEqual, 1000)
				convey.So(cfg.SeedCredits, convey.ShouldResemble, map[string]int64{"alice": 3, "bob": 1})
				convey.So(cfg.StreamBatchSize, convey.ShouldEqual, 50)
			})
		})

		convey.Convey("When loading config with both file and environment variables", func() {
			tmpFile := createTempConfigFile(`
addr: ":9090"
worker_count: 24
`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FLUENTOPS_CONFIG", tmpFile)
			_ = os.Setenv("FLUENTOPS_ADDR", ":8080")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then environment variables should override file values", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
				convey.So(cfg.WorkerCount, convey.ShouldEqual, 24)
			})
		})

		convey.Convey("When loading config with invalid YAML file", func() {
			tmpFile := createTempConfigFile(`invalid: yaml: content: [`)
			defer func() { _ = os.Remove(tmpFile) }()
			_ = os.Setenv("FLUENTOPS_CONFIG", tmpFile)
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return a load error", func() {
				convey.So(errors.Is(err, config.ErrLoadConfig), convey.ShouldBeTrue)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with non-existent file", func() {
			_ = os.Setenv("FLUENTOPS_CONFIG", "/non/existent/file.yaml")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})

		convey.Convey("When loading config with invalid numeric environment variables", func() {
			_ = os.Setenv("FLUENTOPS_QUEUE_SIZE", "invalid")
			defer clearConfigEnvVars()

			cfg, err := config.Load(ctx)

			convey.Convey("Then it should return an error", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(cfg, convey.ShouldBeNil)
			})
		})
	})
}

func TestConfigValidation(t *testing.T) {
	convey.Convey("Given settings the service cannot run with", t, func() {
		ctx := context.Background()
		clearConfigEnvVars()

		cases := map[string]map[string]string{
			"empty addr":            {"FLUENTOPS_ADDR": ""},
			"unknown store driver":  {"FLUENTOPS_STORE_DRIVER": "postgres"},
			"sqlite without dsn":    {"FLUENTOPS_STORE_DRIVER": "sqlite", "FLUENTOPS_SQLITE_DSN": ""},
			"unknown provider":      {"FLUENTOPS_AI_PROVIDER": "llama"},
			"non-positive timeout":  {"FLUENTOPS_RUN_TIMEOUT_MS": "0"},
			"min poll above max":    {"FLUENTOPS_STREAM_MIN_POLL_MS": "5000"},
			"zero batch":            {"FLUENTOPS_STREAM_BATCH_SIZE": "0"},
			"page above max page":   {"FLUENTOPS_LIST_PAGE_SIZE": "500"},
			"inverted mock latency": {"FLUENTOPS_MOCK_LATENCY_MIN_MS": "900"},
		}
		for name, env := range cases {
			convey.Convey("When loading with "+name, func() {
				for k, v := range env {
					_ = os.Setenv(k, v)
				}
				defer clearConfigEnvVars()

				cfg, err := config.Load(ctx)

				convey.Convey("Then it is rejected as invalid", func() {
					convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
					convey.So(cfg, convey.ShouldBeNil)
				})
			})
		}

		convey.Convey("When a seed grant is negative", func() {
			cfg := config.New()
			cfg.SeedCredits = map[string]int64{"alice": -1}

			convey.Convey("Then it is rejected as invalid", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		})
	})
}

func TestConfigWatch(t *testing.T) {
	convey.Convey("Given no config file", t, func() {
		clearConfigEnvVars()

		convey.Convey("Then watching is a no-op", func() {
			err := config.Watch(context.Background(), func(*config.Config) {}, func(error) {})
			convey.So(err, convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a watched config file", t, func() {
		tmpFile := createTempConfigFile("log_level: info\n")
		defer func() { _ = os.Remove(tmpFile) }()
		_ = os.Setenv("FLUENTOPS_CONFIG", tmpFile)
		defer clearConfigEnvVars()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		changes := make(chan *config.Config, 4)
		err := config.Watch(ctx, func(c *config.Config) { changes <- c }, func(error) {})
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When the log level is edited", func() {
			convey.So(os.WriteFile(tmpFile, []byte("log_level: debug\n"), 0o600), convey.ShouldBeNil)

			convey.Convey("Then the reloaded config carries it", func() {
				select {
				case c := <-changes:
					convey.So(c.LogLevel, convey.ShouldEqual, "debug")
				case <-time.After(5 * time.Second):
					convey.So("no reload observed", convey.ShouldBeEmpty)
				}
			})
		})
	})
}

// Helper functions.

func clearConfigEnvVars() {
	for _, kv := range os.Environ() {
		if key, _, _ := strings.Cut(kv, "="); strings.HasPrefix(key, config.EnvPrefix) {
			_ = os.Unsetenv(key)
		}
	}
}

func createTempConfigFile(content string) string {
	tmpFile, err := os.CreateTemp("", "fluentops-config-*.yaml")
	if err != nil {
		panic(err)
	}
	if _, err := tmpFile.WriteString(content); err != nil {
		panic(err)
	}
	if err := tmpFile.Close(); err != nil {
		panic(err)
	}
	return tmpFile.Name()
}
