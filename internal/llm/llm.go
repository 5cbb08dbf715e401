// Package llm provides chat-completion clients for the analysis pipeline
package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/config"
)

// Client is a minimal chat-completion interface. Complete sends one system
// instruction plus one user prompt and returns the model's text response.
type Client interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// New creates the configured LLM provider client
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Client, error) {
	switch cfg.LLMProvider {
	case "gemini", "google":
		return NewGeminiClient(ctx, cfg, logger)
	case "openai":
		return NewOpenAIClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: gemini, openai)", cfg.LLMProvider)
	}
}
