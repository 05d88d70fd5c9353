package translate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

const (
	instruction = "Translate the following Japanese text to English. " +
		"Only return the English translation without any additional commentary or explanation:"

	defaultRetries     = 3
	defaultBackoffBase = 500 * time.Millisecond
	defaultBackoffMax  = 10 * time.Second
)

// Ollama translates through a local Ollama server.
type Ollama struct {
	model   llms.Model
	name    string
	retries uint64
	backoff time.Duration
}

type OllamaOption func(*Ollama)

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n uint64) OllamaOption {
	return func(o *Ollama) { o.retries = n }
}

// WithBackoff sets the base delay of the exponential backoff.
func WithBackoff(d time.Duration) OllamaOption {
	return func(o *Ollama) { o.backoff = d }
}

// NewOllama connects lazily; the first Translate call reaches the server.
func NewOllama(serverURL, model string, opts ...OllamaOption) (*Ollama, error) {
	llm, err := ollama.New(
		ollama.WithServerURL(serverURL),
		ollama.WithModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("ollama client: %w", err)
	}
	o := &Ollama{model: llm, name: model, retries: defaultRetries, backoff: defaultBackoffBase}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Model returns the Ollama model name.
func (o *Ollama) Model() string { return o.name }

func (o *Ollama) Translate(ctx context.Context, text string) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, instruction+"\n\n"+text),
	}

	backoff := newBackoff(o.backoff, o.retries)

	var out string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		resp, err := o.model.GenerateContent(ctx, msgs, llms.WithTemperature(0.1))
		if err != nil {
			if retryable(ctx, err) {
				log.Printf("Translate: attempt %d failed, retrying: %v", attempt, err)
				return retry.RetryableError(err)
			}
			return err
		}
		if len(resp.Choices) == 0 {
			return ErrEmptyResponse
		}
		out = strings.TrimSpace(resp.Choices[0].Content)
		if out == "" {
			return ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama %s: %w", o.name, err)
	}
	return out, nil
}

// newBackoff doubles the delay from base, capping each wait at defaultBackoffMax.
func newBackoff(base time.Duration, retries uint64) retry.Backoff {
	return retry.WithMaxRetries(retries, retry.WithCappedDuration(defaultBackoffMax, retry.NewExponential(base)))
}

// retryable treats everything as transient except cancellation and a missing model.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return !strings.Contains(msg, "not found")
}
