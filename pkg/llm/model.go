package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderClaude = "claude"
	ProviderOllama = "ollama"

	defaultMaxTokens = 4096
	defaultTimeout   = 60 * time.Second
	defaultRetries   = 3
	maxBackoff       = 10 * time.Second
)

// ModelConfig selects and tunes the chat model.
type ModelConfig struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	Temperature *float32
	MaxTokens   int
	Timeout     time.Duration
	Retries     int
}

// NewGenerator builds the generator for cfg.Provider. An empty provider or "none" yields Offline.
func NewGenerator(ctx context.Context, cfg ModelConfig, logger *slog.Logger) (Generator, error) {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}

	var (
		chat model.BaseChatModel
		err  error
	)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderNone:
		return Offline{}, nil
	case ProviderOpenAI:
		chat, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   &cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		})
	case ProviderClaude:
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}

		chat, err = claude.NewChatModel(ctx, &claude.Config{
			BaseURL:     baseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		})
	case ProviderOllama:
		chat, err = ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s chat model: %w", cfg.Provider, err)
	}

	return NewChatGenerator(chat, cfg.Retries, cfg.Timeout, logger), nil
}

// ChatGenerator calls an eino chat model, retrying transient failures with capped exponential backoff.
type ChatGenerator struct {
	chat      model.BaseChatModel
	retries   int
	timeout   time.Duration
	baseDelay time.Duration
	logger    *slog.Logger
}

func NewChatGenerator(chat model.BaseChatModel, retries int, timeout time.Duration, logger *slog.Logger) *ChatGenerator {
	return &ChatGenerator{
		chat:      chat,
		retries:   retries,
		timeout:   timeout,
		baseDelay: time.Second,
		logger:    logger.With("module", "llm"),
	}
}

func (g *ChatGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(prompt),
	}

	var lastErr error

	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			wait := min(g.baseDelay<<(attempt-1), maxBackoff)

			g.logger.InfoContext(ctx, "Retrying model call", "attempt", attempt+1, "wait", wait)

			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrGenerationFailed, ctx.Err())
			case <-time.After(wait):
			}
		}

		out, err := g.call(ctx, messages)
		if err == nil {
			return out, nil
		}

		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			g.logger.WarnContext(ctx, "Model call failed", "error", err)

			return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
		}

		g.logger.InfoContext(ctx, "Retryable model error", "attempt", attempt+1, "error", err)
	}

	return "", fmt.Errorf("%w: failed after %d attempts: %w", ErrGenerationFailed, g.retries+1, lastErr)
}

func (g *ChatGenerator) call(ctx context.Context, messages []*schema.Message) (string, error) {
	attemptCtx := ctx

	if g.timeout > 0 {
		var cancel context.CancelFunc

		attemptCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	out, err := g.chat.Generate(attemptCtx, messages)
	if err != nil {
		return "", err
	}

	if out == nil {
		return "", errors.New("model returned no message")
	}

	return out.Content, nil
}

func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())

	for _, marker := range []string{
		"timeout",
		"connection reset",
		"connection refused",
		"operation timed out",
		"context deadline exceeded",
		"read tcp",
		"write tcp",
		"429",
		"503",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
