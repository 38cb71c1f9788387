package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/felixgeelhaar/fortify/timeout"

	"voxreview.app/relay/common/llm"
)

// Prompt is one request to the text generation service.
type Prompt struct {
	System      string
	User        string
	SchemaName  string
	Schema      any
	Temperature *float64
}

// TextGenerator is the narrow view of the language model the pipeline needs.
// Implementations return ErrGenerationUnavailable when the service refuses
// the call, and a context deadline error when it is merely slow.
type TextGenerator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// LLMGenerator adapts a common/llm client.
type LLMGenerator struct {
	client llm.Client
}

func NewLLMGenerator(client llm.Client) *LLMGenerator {
	return &LLMGenerator{client: client}
}

func (g *LLMGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	resp, err := g.client.Complete(ctx, llm.Request{
		SystemPrompt: p.System,
		UserPrompt:   p.User,
		SchemaName:   p.SchemaName,
		Schema:       p.Schema,
		Temperature:  p.Temperature,
	})
	if err != nil {
		if llm.IsTimeout(err) {
			return "", fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
	}
	if resp.FinishReason == "length" {
		slog.WarnContext(ctx, "generation truncated by token limit", "model", g.client.Model())
	}
	return resp.Content, nil
}

// generateWithRetry runs one generation under a per-call deadline and retries
// deadlines with exponential backoff. Anything other than a deadline stops
// the retry loop and is returned as-is.
func generateWithRetry(ctx context.Context, gen TextGenerator, p Prompt, attempts int, perCall, backoff time.Duration) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = time.Second
	}
	if perCall <= 0 {
		perCall = 45 * time.Second
	}

	r := retry.New[string](retry.Config{
		MaxAttempts:   attempts,
		InitialDelay:  backoff,
		BackoffPolicy: retry.BackoffExponential,
	})
	t := timeout.New[string](timeout.Config{
		DefaultTimeout: perCall,
	})

	var fatal error
	out, err := r.Do(ctx, func(ctx context.Context) (string, error) {
		res, err := t.Execute(ctx, perCall, func(ctx context.Context) (string, error) {
			return gen.Generate(ctx, p)
		})
		if err == nil {
			return res, nil
		}
		if errors.Is(err, ErrGenerationUnavailable) {
			fatal = err
			return "", nil
		}
		slog.WarnContext(ctx, "text generation timed out, retrying", "error", err)
		return "", err
	})

	if fatal != nil {
		return "", fatal
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", fmt.Errorf("%w after %d attempts: %v", ErrGenerationTimeout, attempts, err)
	}
	return out, nil
}
