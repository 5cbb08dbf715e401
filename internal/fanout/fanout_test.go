package fanout

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/frontend"
	"github.com/agentsight/call-copilot/internal/intent"
	"github.com/agentsight/call-copilot/internal/kb"
	"github.com/agentsight/call-copilot/internal/pipeline"
	"github.com/agentsight/call-copilot/internal/resilience"
	"github.com/agentsight/call-copilot/internal/session"
)

type stubLLM struct {
	response string
}

func (s *stubLLM) Complete(ctx context.Context, system, prompt string) (string, error) {
	return s.response, nil
}

// recorder captures backend requests by path
type recorder struct {
	mu       sync.Mutex
	requests map[string][]map[string]any
}

func (r *recorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body map[string]any
		json.NewDecoder(req.Body).Decode(&body)

		if req.URL.Path == "/api/kb/search" {
			json.NewEncoder(w).Encode(map[string]any{
				"ok": true,
				"results": []map[string]any{
					{"id": "kb-1", "title": "Blocking a card", "snippet": "steps", "score": 0.8},
				},
			})
			return
		}

		r.mu.Lock()
		r.requests[req.URL.Path] = append(r.requests[req.URL.Path], body)
		r.mu.Unlock()
	}
}

func (r *recorder) byPath(path string) []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, len(r.requests[path]))
	copy(out, r.requests[path])
	return out
}

func newTestFanout(t *testing.T, llmResponse string) (*Fanout, *recorder) {
	t.Helper()
	rec := &recorder{requests: make(map[string][]map[string]any)}
	server := httptest.NewServer(rec.handler())
	t.Cleanup(server.Close)

	retry := resilience.Policy{MaxRetries: 1, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
	httpClient := &http.Client{Timeout: time.Second}

	frontendClient := frontend.NewClient(server.URL, httpClient,
		resilience.NewCircuitBreaker("frontend", 5, 30*time.Second), retry, zerolog.Nop())
	detector := intent.NewDetector(&stubLLM{response: llmResponse},
		resilience.NewCircuitBreaker("llm", 5, 30*time.Second), zerolog.Nop())
	kbService := kb.NewService(server.URL, 5, httpClient,
		resilience.NewCircuitBreaker("kb", 5, 30*time.Second), zerolog.Nop())

	return New(frontendClient, detector, kbService, nil, 2*time.Second, zerolog.Nop()), rec
}

func drain(s *SessionFanout) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	s.Drain(ctx)
}

func TestFinalTriggersIntentAndKBChain(t *testing.T) {
	fan, rec := newTestFanout(t, `{"intent": "credit_card_block", "confidence": 0.92}`)
	sess := session.New("s1", "call-1", "acme", 8000)
	sf := fan.ForSession(sess)

	sf.OnFinal(pipeline.Segment{Text: "please block my credit card right away", IsFinal: true, Confidence: 0.95})
	drain(sf)

	if got := rec.byPath("/api/calls/ingest-transcript"); len(got) != 1 {
		t.Fatalf("expected 1 transcript forward, got %d", len(got))
	} else if got[0]["type"] != "final" || got[0]["tenantId"] != "acme" {
		t.Errorf("unexpected transcript payload: %v", got[0])
	}

	intents := rec.byPath("/api/calls/intent")
	if len(intents) != 1 || intents[0]["intent"] != "credit_card_block" {
		t.Errorf("unexpected intent forwards: %v", intents)
	}

	kbForwards := rec.byPath("/api/calls/kb-articles")
	if len(kbForwards) != 1 {
		t.Fatalf("expected 1 KB forward, got %d", len(kbForwards))
	}
}

func TestUnknownIntentStopsChain(t *testing.T) {
	fan, rec := newTestFanout(t, `{"intent": "unknown", "confidence": 0.0}`)
	sess := session.New("s1", "call-1", "", 8000)
	sf := fan.ForSession(sess)

	sf.OnFinal(pipeline.Segment{Text: "umm let me think about that", IsFinal: true})
	drain(sf)

	if got := rec.byPath("/api/calls/intent"); len(got) != 0 {
		t.Errorf("unknown intent should not be forwarded, got %v", got)
	}
	if got := rec.byPath("/api/calls/kb-articles"); len(got) != 0 {
		t.Errorf("unknown intent should not trigger KB forwards, got %v", got)
	}
	// The transcript itself is still forwarded
	if got := rec.byPath("/api/calls/ingest-transcript"); len(got) != 1 {
		t.Errorf("expected 1 transcript forward, got %d", len(got))
	}
}

func TestSequenceNumbersStrictlyIncrease(t *testing.T) {
	fan, rec := newTestFanout(t, `{"intent": "unknown", "confidence": 0.0}`)
	sess := session.New("s1", "call-1", "", 8000)
	sf := fan.ForSession(sess)

	for i := 0; i < 5; i++ {
		sf.OnPartial(pipeline.Segment{Text: "partial words here we go", IsFinal: false})
	}
	sf.OnFinal(pipeline.Segment{Text: "the full sentence at the end", IsFinal: true})
	drain(sf)

	forwards := rec.byPath("/api/calls/ingest-transcript")
	if len(forwards) != 6 {
		t.Fatalf("expected 6 forwards, got %d", len(forwards))
	}

	seqs := make([]int, 0, len(forwards))
	for _, f := range forwards {
		seqs = append(seqs, int(f["seq"].(float64)))
	}
	sort.Ints(seqs)
	for i, s := range seqs {
		if s != i+1 {
			t.Fatalf("expected dense increasing seqs starting at 1, got %v", seqs)
		}
	}
}

func TestFinalsAccumulateInSessionTranscript(t *testing.T) {
	fan, _ := newTestFanout(t, `{"intent": "unknown", "confidence": 0.0}`)
	sess := session.New("s1", "call-1", "", 8000)
	sf := fan.ForSession(sess)

	sf.OnFinal(pipeline.Segment{Text: "first sentence spoken", IsFinal: true})
	sf.OnFinal(pipeline.Segment{Text: "second sentence spoken", IsFinal: true})
	drain(sf)

	if sess.TranscriptLen() != 2 {
		t.Errorf("expected 2 finals in transcript, got %d", sess.TranscriptLen())
	}
	full := sess.FullTranscript()
	if full != "first sentence spoken second sentence spoken" {
		t.Errorf("unexpected transcript: %q", full)
	}
}

func TestPartialsDoNotTouchTranscript(t *testing.T) {
	fan, _ := newTestFanout(t, `{"intent": "unknown", "confidence": 0.0}`)
	sess := session.New("s1", "call-1", "", 8000)
	sf := fan.ForSession(sess)

	sf.OnPartial(pipeline.Segment{Text: "partial words in flight", IsFinal: false})
	drain(sf)

	if sess.TranscriptLen() != 0 {
		t.Errorf("partials must not enter the transcript log, got %d entries", sess.TranscriptLen())
	}
}
