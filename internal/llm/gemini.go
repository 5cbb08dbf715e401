package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/agentsight/call-copilot/internal/config"
)

// GeminiClient implements Client on the Gemini API
type GeminiClient struct {
	client *genai.Client
	model  string
	logger zerolog.Logger
}

// NewGeminiClient creates a Gemini-backed completion client
func NewGeminiClient(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  cfg.GeminiModel,
		logger: logger.With().Str("component", "gemini").Logger(),
	}, nil
}

// Complete sends one prompt to Gemini and returns the text response
func (g *GeminiClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()

	genCfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0.3),
		MaxOutputTokens: 1024,
	}
	if system != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned an empty response")
	}

	g.logger.Debug().
		Str("model", g.model).
		Dur("latency", time.Since(start)).
		Int("response_chars", len(text)).
		Msg("Gemini completion")
	return text, nil
}
