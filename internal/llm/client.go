package llm

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/fraudlens/fraudlens/internal/config"
	"github.com/fraudlens/fraudlens/internal/errors"
	"github.com/fraudlens/fraudlens/internal/metrics"
)

// Client is the opaque text-in/text-out capability some analyzers call.
// Nothing in the core depends on a particular model; failures map to the
// typed taxonomy and are fatal to the investigation with no fallback.
type Client interface {
	// Complete sends a system and user prompt and returns the response.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// NewClient returns the mock client in demo mode and the OpenAI-backed
// client otherwise.
func NewClient(cfg *config.Config) (Client, error) {
	if cfg.Mode == config.ModeDemo {
		return NewMockClient(), nil
	}
	return newOpenAIClient(cfg.LLM)
}

type openAIClient struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func newOpenAIClient(cfg config.LLMConfig) (*openAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New(errors.KindConfig, "LLM API key not configured (set OPENAI_API_KEY)")
	}

	rpm := cfg.RateLimit
	if rpm <= 0 {
		rpm = 60
	}

	logger := slog.Default().With("component", "llm")
	logger.Info("llm client initialized", "model", cfg.Model, "rate_limit_rpm", rpm)

	return &openAIClient{
		client:  openai.NewClient(cfg.APIKey),
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		logger:  logger,
	}, nil
}

// Complete sends the prompts under the caller's deadline. The rate
// limiter wait honors cancellation.
func (c *openAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", errors.Wrap(err, errors.KindCancelled, "llm rate limit wait cancelled")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.1,
		MaxTokens:   2000,
	})
	if err != nil {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return "", classifyError(err, c.model)
	}
	if len(resp.Choices) == 0 {
		metrics.LLMCalls.WithLabelValues("error").Inc()
		return "", errors.New(errors.KindLLMAPIError, "llm returned no choices")
	}
	metrics.LLMCalls.WithLabelValues("ok").Inc()

	response := resp.Choices[0].Message.Content
	c.logger.Debug("llm completion",
		"model", c.model,
		"prompt_length", len(userPrompt),
		"response_length", len(response),
		"tokens_used", resp.Usage.TotalTokens,
	)
	return response, nil
}

// classifyError maps provider failures onto the taxonomy. All three LLM
// kinds are fatal to the investigation; there is no model fallback.
func classifyError(err error, model string) error {
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.KindCancelled, "llm call cancelled")
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(err, errors.KindLLMAPIError, "llm call timed out (model %s)", model)
	}

	var apiErr *openai.APIError
	if stderrors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		switch {
		case code == "context_length_exceeded" ||
			strings.Contains(apiErr.Message, "maximum context length"):
			return errors.Wrapf(err, errors.KindLLMContextLengthExceeded,
				"prompt exceeded context window of model %s", model)
		case code == "model_not_found" || apiErr.HTTPStatusCode == http.StatusNotFound:
			return errors.Wrapf(err, errors.KindLLMModelNotFound, "model %s not found", model)
		}
	}
	return errors.Wrapf(err, errors.KindLLMAPIError, "llm call failed (model %s)", model)
}
