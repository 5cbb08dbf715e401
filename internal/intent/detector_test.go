package intent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/resilience"
)

type stubLLM struct {
	response string
	err      error
	calls    int
}

func (s *stubLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	s.calls++
	return s.response, s.err
}

func newTestDetector(llmClient *stubLLM) *Detector {
	breaker := resilience.NewCircuitBreaker("llm", 5, 30*time.Second)
	return NewDetector(llmClient, breaker, zerolog.Nop())
}

func TestDetectParsesResponse(t *testing.T) {
	llmClient := &stubLLM{response: `{"intent": "credit_card_block", "confidence": 0.95}`}
	d := newTestDetector(llmClient)

	result := d.Detect(context.Background(), "I need to block my credit card", nil)
	if result.Intent != "credit_card_block" {
		t.Errorf("expected credit_card_block, got %s", result.Intent)
	}
	if result.Confidence != 0.95 {
		t.Errorf("expected confidence 0.95, got %f", result.Confidence)
	}
}

func TestDetectShortTextSkipsLLM(t *testing.T) {
	llmClient := &stubLLM{response: `{"intent": "x", "confidence": 1}`}
	d := newTestDetector(llmClient)

	result := d.Detect(context.Background(), "hi", nil)
	if result.Intent != Unknown || result.Confidence != 0.0 {
		t.Errorf("expected unknown with zero confidence, got %+v", result)
	}
	if llmClient.calls != 0 {
		t.Errorf("LLM should not be called for short text, got %d calls", llmClient.calls)
	}
}

func TestDetectLLMErrorReturnsUnknown(t *testing.T) {
	llmClient := &stubLLM{err: errors.New("upstream down")}
	d := newTestDetector(llmClient)

	result := d.Detect(context.Background(), "I noticed a strange charge on my card", nil)
	if result.Intent != Unknown {
		t.Errorf("expected unknown on LLM error, got %s", result.Intent)
	}
}

func TestDetectInvalidJSONReturnsUnknown(t *testing.T) {
	llmClient := &stubLLM{response: "sorry, I cannot classify that"}
	d := newTestDetector(llmClient)

	result := d.Detect(context.Background(), "I noticed a strange charge on my card", nil)
	if result.Intent != Unknown {
		t.Errorf("expected unknown on parse failure, got %s", result.Intent)
	}
}

func TestDetectStripsCodeFence(t *testing.T) {
	llmClient := &stubLLM{response: "```json\n{\"intent\": \"account_balance\", \"confidence\": 0.9}\n```"}
	d := newTestDetector(llmClient)

	result := d.Detect(context.Background(), "I want to check my account balance", nil)
	if result.Intent != "account_balance" {
		t.Errorf("expected account_balance, got %s", result.Intent)
	}
}

func TestDetectClampsConfidence(t *testing.T) {
	llmClient := &stubLLM{response: `{"intent": "credit_card", "confidence": 1.7}`}
	d := newTestDetector(llmClient)

	result := d.Detect(context.Background(), "something about my credit card", nil)
	if result.Confidence != 1.0 {
		t.Errorf("expected clamped confidence 1.0, got %f", result.Confidence)
	}
}

func TestNormalizeIntent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Credit Card Block", "credit_card_block"},
		{"creditcard", "credit_card"},
		{"debitcard", "debit_card"},
		{"credit_card_blocking", "credit_card_block"},
		{"debit_card_blocking", "debit_card_block"},
		{"card_block", "credit_card_block"},
		{"account_balance", "account_balance"},
		{"  Fraudulent Transaction ", "fraudulent_transaction"},
	}

	for _, tt := range tests {
		if got := normalizeIntent(tt.in); got != tt.want {
			t.Errorf("normalizeIntent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectOpenBreakerDegradesToUnknown(t *testing.T) {
	llmClient := &stubLLM{err: errors.New("upstream down")}
	breaker := resilience.NewCircuitBreaker("llm", 1, time.Hour)
	d := NewDetector(llmClient, breaker, zerolog.Nop())

	text := "I noticed a strange charge on my card"
	d.Detect(context.Background(), text, nil)

	calls := llmClient.calls
	result := d.Detect(context.Background(), text, nil)
	if result.Intent != Unknown {
		t.Errorf("expected unknown with open breaker, got %s", result.Intent)
	}
	if llmClient.calls != calls {
		t.Errorf("open breaker should not reach the LLM, calls went %d -> %d", calls, llmClient.calls)
	}
}
