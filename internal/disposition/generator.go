// Package disposition summarizes finished calls into wrap-up recommendations
package disposition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/llm"
	"github.com/agentsight/call-copilot/internal/observability"
	"github.com/agentsight/call-copilot/internal/resilience"
)

// minTranscriptLength is the shortest transcript worth summarizing
const minTranscriptLength = 10

const systemInstruction = "You are a customer support call analyst. " +
	"Always respond with valid JSON containing 'issue', 'resolution', 'next_steps', " +
	"'dispositions', and 'confidence' fields."

// Recommendation is one suggested wrap-up code with its score
type Recommendation struct {
	Label          string  `json:"label"`
	Score          float64 `json:"score"`
	SubDisposition string  `json:"subDisposition,omitempty"`
}

// Summary is the complete call wrap-up
type Summary struct {
	Issue        string           `json:"issue"`
	Resolution   string           `json:"resolution"`
	NextSteps    string           `json:"next_steps"`
	Dispositions []Recommendation `json:"dispositions"`
	Confidence   float64          `json:"confidence"`
}

// AutoNotes joins the summary sections into agent-facing notes
func (s *Summary) AutoNotes() string {
	sections := []string{s.Issue, s.Resolution, s.NextSteps}
	var nonEmpty []string
	for _, section := range sections {
		if strings.TrimSpace(section) != "" {
			nonEmpty = append(nonEmpty, section)
		}
	}
	if len(nonEmpty) == 0 {
		return "No notes generated."
	}
	return strings.Join(nonEmpty, "\n\n")
}

// Generator produces a disposition summary from the full call transcript.
// Generate never fails: retries run inside the circuit breaker, and any
// terminal error degrades to a low-confidence fallback summary.
type Generator struct {
	llm     llm.Client
	breaker *resilience.CircuitBreaker
	retry   resilience.Policy
	logger  zerolog.Logger
}

// NewGenerator creates a disposition generator
func NewGenerator(llmClient llm.Client, breaker *resilience.CircuitBreaker, retry resilience.Policy, logger zerolog.Logger) *Generator {
	return &Generator{
		llm:     llmClient,
		breaker: breaker,
		retry:   retry,
		logger:  logger.With().Str("component", "disposition").Logger(),
	}
}

// Generate summarizes the transcript for the given call
func (g *Generator) Generate(ctx context.Context, transcript, callID string) *Summary {
	logger := g.logger.With().Str("call_id", callID).Logger()

	if len(strings.TrimSpace(transcript)) < minTranscriptLength {
		logger.Warn().Int("length", len(transcript)).Msg("transcript too short for disposition")
		return FallbackSummary()
	}

	logger.Info().Int("transcript_length", len(transcript)).Msg("generating disposition")

	prompt := buildPrompt(transcript)
	start := time.Now()

	var response string
	err := g.retry.Do(ctx, logger, callID, func() error {
		return g.breaker.Call(func() error {
			var callErr error
			response, callErr = g.llm.Complete(ctx, systemInstruction, prompt)
			return callErr
		})
	}, isRetryableLLMError)
	observability.RecordDisposition(err == nil)
	logger.Debug().Dur("latency", time.Since(start)).Msg("disposition LLM call finished")
	if err != nil {
		logger.Error().Err(err).Msg("disposition generation failed, using fallback")
		observability.RecordError("disposition_generation", "disposition")
		return FallbackSummary()
	}

	summary, err := parseSummary(response)
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse disposition response, using fallback")
		return FallbackSummary()
	}

	logger.Info().
		Int("recommendations", len(summary.Dispositions)).
		Float64("confidence", summary.Confidence).
		Msg("generated disposition")
	return summary
}

func isRetryableLLMError(err error) bool {
	if err == resilience.ErrCircuitOpen {
		return false
	}
	return resilience.IsRetryableNetworkError(err)
}

func parseSummary(response string) (*Summary, error) {
	cleaned := strings.TrimSpace(response)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		cleaned = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(cleaned), "```"))
	}

	var summary Summary
	if err := json.Unmarshal([]byte(cleaned), &summary); err != nil {
		return nil, fmt.Errorf("invalid disposition JSON: %w", err)
	}

	if summary.Issue == "" {
		summary.Issue = "Issue not identified."
	}
	if summary.Resolution == "" {
		summary.Resolution = "Resolution not specified."
	}
	if summary.NextSteps == "" {
		summary.NextSteps = "No next steps specified."
	}
	if len(summary.Dispositions) == 0 {
		summary.Dispositions = []Recommendation{{Label: "general_inquiry", Score: 0.5}}
	}
	for i := range summary.Dispositions {
		if summary.Dispositions[i].Label == "" {
			summary.Dispositions[i].Label = "unknown"
		}
	}
	if summary.Confidence == 0 {
		summary.Confidence = 0.5
	}

	return &summary, nil
}

// FallbackSummary is returned when generation fails so the agent still gets
// a wrap-up entry pointing at manual review
func FallbackSummary() *Summary {
	return &Summary{
		Issue:      "Unable to analyze transcript.",
		Resolution: "Please review the call transcript manually.",
		NextSteps:  "Review call details and assign appropriate disposition.",
		Dispositions: []Recommendation{
			{Label: "general_inquiry", Score: 0.1},
		},
		Confidence: 0.1,
	}
}

func buildPrompt(transcript string) string {
	return fmt.Sprintf(`You are a customer support call analyst. Analyze the following call transcript and generate a comprehensive summary with disposition recommendations.

Call Transcript:
%s

Generate a JSON response with the following structure:
{
  "issue": "Brief description of the customer's issue or concern",
  "resolution": "How the issue was resolved or what action was taken",
  "next_steps": "Recommended next steps or follow-up actions",
  "dispositions": [
    {
      "label": "Primary disposition code (e.g., credit_card_block, account_balance)",
      "score": 0.95,
      "subDisposition": "Optional sub-disposition if applicable"
    }
  ],
  "confidence": 0.9
}

CRITICAL RULES:
1. Be specific with disposition labels - use the same intent taxonomy:
   - credit_card_block, credit_card_fraud, credit_card_replacement, credit_card
   - debit_card_block, debit_card_fraud, debit_card
   - account_balance, account_inquiry, savings_account, salary_account
   - fraudulent_transaction

2. Include sub-dispositions when relevant (e.g., "card_lost", "card_stolen")

3. Provide clear, actionable summaries in issue, resolution, and next_steps

4. Confidence should reflect how certain you are about the disposition (0.0-1.0)

5. If multiple dispositions are relevant, include them all with appropriate scores

Respond ONLY with valid JSON. Do not include any text outside the JSON object.`, transcript)
}
