// Package gemini is a live capability over Google GenAI.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/okian/fluentops/internal/domain/capability"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.0-flash"

// Client invokes GenerateContent.
type Client struct {
	client      *genai.Client
	model       string
	temperature float32
}

var _ capability.Capability = (*Client)(nil)

// Option configures a Client.
type Option func(*config)

type config struct {
	model       string
	temperature float32
	baseURL     string
}

// WithModel sets the model name.
func WithModel(m string) Option {
	return func(c *config) {
		if m != "" {
			c.model = m
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *config) { c.temperature = t }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// New creates a client for the Gemini API.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	cfg := config{model: DefaultModel, temperature: 0.7}
	for _, opt := range opts {
		opt(&cfg)
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{client: client, model: cfg.model, temperature: cfg.temperature}, nil
}

// Invoke sends the user prompt under the system instruction and asks for JSON back.
func (c *Client) Invoke(ctx context.Context, p capability.PromptSet) (string, error) {
	resp, err := c.client.Models.GenerateContent(ctx,
		c.model,
		[]*genai.Content{genai.NewContentFromText(p.User, genai.RoleUser)},
		&genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(p.System, genai.RoleUser),
			Temperature:       genai.Ptr(c.temperature),
			ResponseMIMEType:  "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", capability.ErrEmptyReply
	}
	return text, nil
}
