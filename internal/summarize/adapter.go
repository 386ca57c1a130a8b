// Package summarize produces short Spanish descriptions of norms,
// attachments and tenders through an LLM, degrading to truncated source
// text when the model is unavailable.
package summarize

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/boletin-cli/internal/resilience"
	"github.com/sells-group/boletin-cli/pkg/anthropic"
)

// Adapter turns a prompt and an instruction into a short text. The second
// return is false when no usable text was produced; callers then keep a
// fallback. Implementations never panic and never return errors.
type Adapter interface {
	Summarize(ctx context.Context, prompt, instruction string) (string, bool)
}

// Disabled is the adapter used when no model is configured.
type Disabled struct{}

// Summarize always reports no result.
func (Disabled) Summarize(context.Context, string, string) (string, bool) { return "", false }

// AnthropicOptions configures AnthropicAdapter.
type AnthropicOptions struct {
	Model          string
	MaxTokens      int64
	Temperature    float64
	MaxPromptChars int
	Retry          resilience.RetryConfig
	Breaker        *resilience.CircuitBreaker
}

// AnthropicAdapter summarizes through the Messages API with retries for
// transient failures and a circuit breaker shared by every call.
type AnthropicAdapter struct {
	client anthropic.Client
	opts   AnthropicOptions
}

// NewAnthropicAdapter creates an adapter. Zero options take the pipeline
// defaults: 300 tokens, temperature 0.3 and 1200 prompt characters.
func NewAnthropicAdapter(client anthropic.Client, opts AnthropicOptions) *AnthropicAdapter {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 300
	}
	if opts.Temperature <= 0 || opts.Temperature > 1 {
		opts.Temperature = 0.3
	}
	if opts.MaxPromptChars <= 0 {
		opts.MaxPromptChars = 1200
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.ShouldRetry == nil {
		opts.Retry.ShouldRetry = retryable
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = resilience.RetryLogger("anthropic", "summarize")
	}
	if opts.Breaker == nil {
		opts.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "anthropic"})
	}
	return &AnthropicAdapter{client: client, opts: opts}
}

// Summarize implements Adapter.
func (a *AnthropicAdapter) Summarize(ctx context.Context, prompt, instruction string) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("summarize: adapter panic", zap.Any("panic", r))
			text, ok = "", false
		}
	}()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", false
	}

	start := time.Now()
	out, err := resilience.ExecuteVal(ctx, a.opts.Breaker, func(ctx context.Context) (string, error) {
		return resilience.DoVal(ctx, a.opts.Retry, func(ctx context.Context) (string, error) {
			return a.call(ctx, prompt, instruction)
		})
	})
	if err != nil {
		zap.L().Warn("summarize: model call failed",
			zap.Int("status", anthropic.StatusCode(err)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return "", false
	}

	out = Clean(out)
	if out == "" {
		return "", false
	}
	return out, true
}

func (a *AnthropicAdapter) call(ctx context.Context, prompt, instruction string) (string, error) {
	temp := a.opts.Temperature
	req := anthropic.MessageRequest{
		Model:       a.opts.Model,
		MaxTokens:   a.opts.MaxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: truncateRunes(prompt, a.opts.MaxPromptChars)}},
		Temperature: &temp,
	}
	if instruction != "" {
		req.System = []anthropic.SystemBlock{{Text: instruction}}
	}

	resp, err := a.client.CreateMessage(ctx, req)
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", eris.New("summarize: empty response")
	}
	resp.Usage.LogCost(a.opts.Model, "summarize")
	return resp.Text(), nil
}

func retryable(err error) bool {
	if status := anthropic.StatusCode(err); status != 0 {
		return resilience.IsTransientHTTPStatus(status)
	}
	return resilience.IsTransient(err)
}
