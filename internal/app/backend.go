package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/okian/fluentops/internal/adapters/capability/gemini"
	"github.com/okian/fluentops/internal/adapters/capability/openai"
	"github.com/okian/fluentops/internal/domain/capability"
	"github.com/okian/fluentops/pkg/logger"
)

// Capability providers.
const (
	ProviderMock   = "mock"
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// BackendConfig selects and configures the text-generation backend.
type BackendConfig struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	GeminiAPIKey  string
	GeminiBaseURL string
	Model         string
	Temperature   float32
	MockMinDelay  time.Duration
	MockMaxDelay  time.Duration
}

// NewBackend builds the configured capability and returns it with the name of
// the provider actually in use. A live provider without an API key falls back to
// the mock.
func NewBackend(ctx context.Context, cfg BackendConfig) (capability.Capability, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	log := logger.Named("backend")

	switch provider {
	case "", ProviderMock:
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey != "" {
			return openai.New(cfg.OpenAIAPIKey,
				openai.WithBaseURL(cfg.OpenAIBaseURL),
				openai.WithModel(cfg.Model),
				openai.WithTemperature(cfg.Temperature),
			), ProviderOpenAI, nil
		}
		log.Warn(ctx, "no OpenAI API key configured, using mock capability")
	case ProviderGemini:
		if cfg.GeminiAPIKey != "" {
			c, err := gemini.New(ctx, cfg.GeminiAPIKey,
				gemini.WithBaseURL(cfg.GeminiBaseURL),
				gemini.WithModel(cfg.Model),
				gemini.WithTemperature(cfg.Temperature),
			)
			if err != nil {
				return nil, "", fmt.Errorf("gemini backend: %w", err)
			}
			return c, ProviderGemini, nil
		}
		log.Warn(ctx, "no Gemini API key configured, using mock capability")
	default:
		return nil, "", fmt.Errorf("unknown capability provider %q", cfg.Provider)
	}

	var opts []capability.MockOption
	if cfg.MockMaxDelay > 0 {
		opts = append(opts, capability.WithLatencyRange(cfg.MockMinDelay, cfg.MockMaxDelay))
	}
	return capability.NewMock(opts...), ProviderMock, nil
}
