// Package intent classifies caller intent from transcript text
package intent

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

// Unknown is the intent returned when classification is skipped or fails
const Unknown = "unknown"

// minTextLength is the minimum transcript length worth classifying
const minTextLength = 10

const systemInstruction = "You are a customer support intent classifier. " +
	"Always respond with valid JSON containing 'intent' and 'confidence' fields."

// Result is one intent classification
type Result struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// intentAliases maps common model output variants onto canonical labels
var intentAliases = map[string]string{
	"creditcard":           "credit_card",
	"debitcard":            "debit_card",
	"credit_card_blocking": "credit_card_block",
	"debit_card_blocking":  "debit_card_block",
	// Ambiguous card blocks default to credit card
	"card_block": "credit_card_block",
}

// Detector classifies transcript segments using the configured LLM, guarded
// by a circuit breaker. Detect never returns an error; failures degrade to
// the unknown intent so the transcript pipeline is never disturbed.
type Detector struct {
	llm     llm.Client
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

// NewDetector creates an intent detector
func NewDetector(llmClient llm.Client, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *Detector {
	return &Detector{
		llm:     llmClient,
		breaker: breaker,
		logger:  logger.With().Str("component", "intent").Logger(),
	}
}

// Detect classifies the given transcript text. The optional context slice
// carries earlier utterances from the same call.
func (d *Detector) Detect(ctx context.Context, text string, callContext []string) Result {
	if len(strings.TrimSpace(text)) < minTextLength {
		d.logger.Debug().Int("length", len(text)).Msg("text too short for intent detection")
		return Result{Intent: Unknown, Confidence: 0.0}
	}

	start := time.Now()
	prompt := buildPrompt(text, callContext)

	var response string
	err := d.breaker.Call(func() error {
		var callErr error
		response, callErr = d.llm.Complete(ctx, systemInstruction, prompt)
		return callErr
	})
	observability.RecordIntent(err == nil, time.Since(start))
	if err != nil {
		d.logger.Error().Err(err).Msg("intent detection failed")
		observability.RecordError("intent_detection", "intent")
		return Result{Intent: Unknown, Confidence: 0.0}
	}

	result, err := parseResult(response)
	if err != nil {
		d.logger.Error().Err(err).Str("response", truncate(response, 200)).Msg("failed to parse intent response")
		return Result{Intent: Unknown, Confidence: 0.0}
	}

	d.logger.Info().
		Str("intent", result.Intent).
		Float64("confidence", result.Confidence).
		Msg("detected intent")
	return result
}

func parseResult(response string) (Result, error) {
	cleaned := stripCodeFence(strings.TrimSpace(response))

	var raw Result
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return Result{}, fmt.Errorf("invalid intent JSON: %w", err)
	}

	intent := normalizeIntent(raw.Intent)
	if intent == "" {
		intent = Unknown
	}

	confidence := raw.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return Result{Intent: intent, Confidence: confidence}, nil
}

// normalizeIntent lowercases, underscores, and resolves known aliases
func normalizeIntent(intent string) string {
	normalized := strings.ReplaceAll(strings.TrimSpace(strings.ToLower(intent)), " ", "_")
	if canonical, ok := intentAliases[normalized]; ok {
		return canonical
	}
	return normalized
}

// stripCodeFence removes a markdown code fence some models wrap JSON in
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func buildPrompt(text string, callContext []string) string {
	var contextText string
	if len(callContext) > 0 {
		contextText = "Previous context:\n" + strings.Join(callContext, "\n") + "\n\nCurrent:"
	}

	return fmt.Sprintf(`You are an intent classifier for customer support calls. Analyze the transcript and identify the PRIMARY intent. Be specific - distinguish between different card types and account types.

%s
"%s"

CRITICAL RULES - READ CAREFULLY:
1. If the text explicitly mentions "credit card" or "creditcard", use credit_card intents:
   - credit_card_block (for blocking/lost/stolen credit cards)
   - credit_card_fraud (for fraud/unauthorized charges on credit cards)
   - credit_card_replacement (for replacing credit cards)
   - credit_card (for general credit card issues)

2. If the text explicitly mentions "debit card" or "debitcard", use debit_card intents:
   - debit_card_block (for blocking debit cards)
   - debit_card_fraud (for fraud on debit cards)
   - debit_card (for general debit card issues)

3. NEVER confuse credit card with debit card:
   - "I need to block my credit card" -> credit_card_block (NOT debit_card_block)
   - "My credit card was stolen" -> credit_card_block or credit_card_fraud (NOT debit_card)
   - "My debit card is not working" -> debit_card_block (NOT credit_card)

4. Account issues (only if specifically about accounts, not cards):
   - account_balance (checking balance)
   - account_inquiry (general account questions)
   - savings_account (only if "savings account" is mentioned)
   - salary_account (only if "salary account" is mentioned)

5. Fraud detection:
   - If fraud + credit card -> credit_card_fraud
   - If fraud + debit card -> debit_card_fraud
   - If fraud + no card type -> fraudulent_transaction

EXAMPLES:
- "I need to block my credit card" -> {"intent": "credit_card_block", "confidence": 0.95}
- "My credit card was stolen" -> {"intent": "credit_card_block", "confidence": 0.9}
- "My debit card is not working" -> {"intent": "debit_card_block", "confidence": 0.9}
- "I want to check my account balance" -> {"intent": "account_balance", "confidence": 0.95}

Respond ONLY with valid JSON in this exact format:
{"intent": "intent_label", "confidence": 0.0}

Use specific intents: credit_card_block, credit_card_fraud, credit_card_replacement, debit_card_block, debit_card_fraud, account_balance, etc.`, contextText, text)
}
