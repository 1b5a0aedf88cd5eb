package generate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini"

	// maxReplyTokens bounds the generated reply length.
	maxReplyTokens = 400
)

// Provider implements Generator against an OpenAI-compatible API.
type Provider struct {
	client openai.Client
	model  string
}

// ProviderOption configures a Provider.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	model   string
	baseURL string
}

// WithModel sets the model to use for completions.
func WithModel(model string) ProviderOption {
	return func(c *providerConfig) {
		c.model = model
	}
}

// WithBaseURL sets a custom base URL for OpenAI-compatible APIs.
// This enables using Azure OpenAI, local models, or other compatible
// services.
func WithBaseURL(baseURL string) ProviderOption {
	return func(c *providerConfig) {
		c.baseURL = baseURL
	}
}

// NewProvider creates a provider with the given API key.
//
// If apiKey is empty, it will attempt to read the OPENAI_API_KEY
// environment variable. If no base URL is set, OPENAI_BASE_URL is checked.
func NewProvider(apiKey string, opts ...ProviderOption) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required (provide via parameter or OPENAI_API_KEY environment variable)")
	}

	cfg := &providerConfig{model: DefaultModel}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.baseURL == "" {
		cfg.baseURL = os.Getenv("OPENAI_BASE_URL")
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}

	return &Provider{
		client: openai.NewClient(clientOpts...),
		model:  cfg.model,
	}, nil
}

// Model returns the model name being used.
func (p *Provider) Model() string {
	return p.model
}

// Generate produces a reply for the request's review context.
//
// The returned Result is always non-nil on a nil error: API failures are
// normalized into Result.Error/ErrorClass rather than surfaced as Go
// errors, so callers have one failure path.
func (p *Provider) Generate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(BuildPrompt(&req.Review)),
		},
		MaxTokens:   openai.Int(maxReplyTokens),
		Temperature: openai.Float(0.7),
	})

	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		class := ClassifyError(err)
		return &Result{
			Success:          false,
			Error:            err.Error(),
			ErrorClass:       class,
			ProcessingTimeMs: elapsed,
			Model:            p.model,
		}, nil
	}

	if len(completion.Choices) == 0 {
		return &Result{
			Success:          false,
			Error:            "generation returned no choices",
			ErrorClass:       ClassServer,
			ProcessingTimeMs: elapsed,
			Model:            p.model,
		}, nil
	}

	return &Result{
		Success:          true,
		AIResponse:       strings.TrimSpace(completion.Choices[0].Message.Content),
		ProcessingTimeMs: elapsed,
		Model:            p.model,
	}, nil
}

// ClassifyError buckets a request error into the failure taxonomy.
func ClassifyError(err error) Class {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return ClassAuth
		case apiErr.StatusCode == 402 || apiErr.StatusCode == 429:
			// Rate limits and exhausted quotas share the remedy:
			// buy headroom or wait.
			return ClassCredits
		case apiErr.StatusCode == 400 || apiErr.StatusCode == 422:
			return ClassValidation
		case apiErr.StatusCode >= 500:
			return ClassServer
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ClassNetwork
	}

	// Connection refused, DNS failure, broken pipe and friends arrive as
	// transport errors without an API status.
	return ClassNetwork
}
