// Package frontend forwards call data to the case-management backend
package frontend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/disposition"
	"github.com/agentsight/call-copilot/internal/kb"
	"github.com/agentsight/call-copilot/internal/observability"
	"github.com/agentsight/call-copilot/internal/resilience"
)

// authorName identifies this service in backend records
const authorName = "call-copilot"

// Client posts call data to the backend REST API. Transcript and
// disposition forwards are critical and run under retry plus circuit
// breaker; intent and KB forwards are advisory and run breaker-only.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	retry      resilience.Policy
	logger     zerolog.Logger
}

// NewClient creates a forwarding client for the given backend base URL.
// The http.Client is shared with the rest of the outbound path.
func NewClient(baseURL string, httpClient *http.Client, breaker *resilience.CircuitBreaker, retry resilience.Policy, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		breaker:    breaker,
		retry:      retry,
		logger:     logger.With().Str("component", "frontend").Logger(),
	}
}

type transcriptPayload struct {
	CallID   string `json:"callId"`
	Text     string `json:"text"`
	Seq      uint64 `json:"seq"`
	Type     string `json:"type"`
	TenantID string `json:"tenantId"`
}

type intentPayload struct {
	CallID     string  `json:"callId"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	TenantID   string  `json:"tenantId"`
}

type kbPayload struct {
	CallID   string       `json:"callId"`
	TenantID string       `json:"tenantId"`
	Articles []kb.Article `json:"articles"`
}

type dispositionEntry struct {
	Code           string  `json:"code"`
	Title          string  `json:"title"`
	Score          float64 `json:"score"`
	SubDisposition string  `json:"subDisposition,omitempty"`
}

type dispositionPayload struct {
	CallID       string             `json:"callId"`
	TenantID     string             `json:"tenantId"`
	Notes        string             `json:"notes"`
	Dispositions []dispositionEntry `json:"dispositions"`
	Confidence   float64            `json:"confidence"`
	Author       string             `json:"author"`
}

// SendTranscript forwards one transcript segment. Retries transient
// failures before giving up.
func (c *Client) SendTranscript(ctx context.Context, callID, text string, seq uint64, isFinal bool, tenantID string) error {
	segType := "partial"
	if isFinal {
		segType = "final"
	}

	corrID := observability.NewCorrelationID()
	err := c.retry.Do(ctx, c.logger, corrID, func() error {
		return c.breaker.Call(func() error {
			return c.post(ctx, "/api/calls/ingest-transcript", transcriptPayload{
				CallID:   callID,
				Text:     text,
				Seq:      seq,
				Type:     segType,
				TenantID: tenantID,
			})
		})
	}, c.isRetryable)

	observability.RecordForward("transcript", err == nil)
	if err != nil {
		c.logger.Error().Err(err).
			Str("correlation_id", corrID).
			Str("call_id", callID).
			Uint64("seq", seq).
			Msg("failed to send transcript")
		observability.RecordError("forward_transcript", "frontend")
		return fmt.Errorf("failed to send transcript: %w", err)
	}
	return nil
}

// SendIntent forwards a detected intent. Advisory: no retries, failures
// are logged and swallowed.
func (c *Client) SendIntent(ctx context.Context, callID, detectedIntent string, confidence float64, tenantID string) {
	err := c.breaker.Call(func() error {
		return c.post(ctx, "/api/calls/intent", intentPayload{
			CallID:     callID,
			Intent:     detectedIntent,
			Confidence: confidence,
			TenantID:   tenantID,
		})
	})

	observability.RecordForward("intent", err == nil)
	if err != nil {
		c.logger.Debug().Err(err).
			Str("call_id", callID).
			Msg("intent forward failed (non-critical)")
	}
}

// SendKBArticles forwards KB search hits. Advisory like SendIntent.
func (c *Client) SendKBArticles(ctx context.Context, callID string, articles []kb.Article, tenantID string) {
	if len(articles) == 0 {
		return
	}

	err := c.breaker.Call(func() error {
		return c.post(ctx, "/api/calls/kb-articles", kbPayload{
			CallID:   callID,
			TenantID: tenantID,
			Articles: articles,
		})
	})

	observability.RecordForward("kb", err == nil)
	if err != nil {
		c.logger.Debug().Err(err).
			Str("call_id", callID).
			Int("count", len(articles)).
			Msg("KB article forward failed (non-critical)")
	}
}

// SendDisposition forwards the end-of-call wrap-up as auto notes
func (c *Client) SendDisposition(ctx context.Context, callID string, summary *disposition.Summary, tenantID string) error {
	entries := make([]dispositionEntry, 0, len(summary.Dispositions))
	for _, d := range summary.Dispositions {
		entries = append(entries, dispositionEntry{
			Code:           d.Label,
			Title:          titleCase(d.Label),
			Score:          d.Score,
			SubDisposition: d.SubDisposition,
		})
	}

	corrID := observability.NewCorrelationID()
	err := c.retry.Do(ctx, c.logger, corrID, func() error {
		return c.breaker.Call(func() error {
			return c.post(ctx, "/api/calls/auto_notes", dispositionPayload{
				CallID:       callID,
				TenantID:     tenantID,
				Notes:        summary.AutoNotes(),
				Dispositions: entries,
				Confidence:   summary.Confidence,
				Author:       authorName,
			})
		})
	}, c.isRetryable)

	observability.RecordForward("disposition", err == nil)
	if err != nil {
		c.logger.Error().Err(err).
			Str("correlation_id", corrID).
			Str("call_id", callID).
			Msg("failed to send disposition")
		observability.RecordError("forward_disposition", "frontend")
		return fmt.Errorf("failed to send disposition: %w", err)
	}

	c.logger.Info().
		Str("call_id", callID).
		Int("dispositions", len(entries)).
		Msg("disposition sent")
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return resilience.NewRetryableError(
			fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(body)))
	}
	return nil
}

// isRetryable treats an open breaker as terminal so retry attempts do not
// hammer a destination that is already shedding load
func (c *Client) isRetryable(err error) bool {
	if err == resilience.ErrCircuitOpen {
		return false
	}
	return resilience.IsRetryable(err) || resilience.IsRetryableNetworkError(err)
}

// titleCase converts a disposition code into a display title,
// e.g. "credit_card_block" becomes "Credit Card Block"
func titleCase(code string) string {
	words := strings.Split(code, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
