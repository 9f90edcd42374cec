// Package llm is the text-generation collaborator used by the planning and content stages.
package llm

import (
	"context"
	"errors"
)

var (
	// ErrGenerationFailed wraps every error returned by a model call.
	ErrGenerationFailed = errors.New("text generation failed")

	// ErrOffline is returned by the generator used when no provider is configured.
	ErrOffline = errors.New("no text generation provider configured")
)

// Generator turns a system prompt and a user prompt into text.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, system, prompt string) (string, error)

func (f Func) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// Static always answers with the same text.
type Static string

func (s Static) Generate(context.Context, string, string) (string, error) {
	return string(s), nil
}

// Offline fails every call with ErrOffline so stages fall back to their templated output.
type Offline struct{}

func (Offline) Generate(context.Context, string, string) (string, error) {
	return "", ErrOffline
}
