package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/config"
)

const openAIChatURL = "https://api.openai.com/v1/chat/completions"

// OpenAIClient implements Client on the OpenAI chat completions API
type OpenAIClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAIClient creates an OpenAI-backed completion client
func NewOpenAIClient(cfg *config.Config, logger zerolog.Logger) *OpenAIClient {
	return &OpenAIClient{
		apiKey: cfg.OpenAIAPIKey,
		model:  cfg.OpenAIModel,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		logger: logger.With().Str("component", "openai").Logger(),
	}
}

// Complete sends one prompt to OpenAI and returns the text response
func (o *OpenAIClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	start := time.Now()

	messages := make([]openAIMessage, 0, 2)
	if system != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: system})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: prompt})

	jsonData, err := json.Marshal(openAIRequest{
		Model:       o.model,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return "", fmt.Errorf("openai API error (%s): %s", parsed.Error.Type, parsed.Error.Message)
		}
		return "", fmt.Errorf("openai API returned status %d", resp.StatusCode)
	}

	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("openai returned an empty response")
	}

	text := parsed.Choices[0].Message.Content

	o.logger.Debug().
		Str("model", o.model).
		Dur("latency", time.Since(start)).
		Int("response_chars", len(text)).
		Msg("OpenAI completion")
	return text, nil
}
