package session

import (
	"strings"
	"sync"
)

// State is the lifecycle state of a stream session
type State int

const (
	StateAwaitingStart State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingStart:
		return "awaiting_start"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// DefaultTenant is used when the carrier omits an account identifier
const DefaultTenant = "default"

// StreamSession holds the state of one live call stream. StreamID is the
// carrier-assigned unique key; the sample rate is fixed at creation and never
// changes even if later events claim a different rate.
type StreamSession struct {
	StreamID     string
	CallID       string
	TenantID     string
	SampleRateHz int

	mu            sync.Mutex
	state         State
	inboundSeq    uint64
	outboundSeq   uint64
	transcriptLog []string
}

// New creates a session in the AwaitingStart state. An empty tenant falls
// back to DefaultTenant.
func New(streamID, callID, tenantID string, sampleRateHz int) *StreamSession {
	if tenantID == "" {
		tenantID = DefaultTenant
	}
	return &StreamSession{
		StreamID:     streamID,
		CallID:       callID,
		TenantID:     tenantID,
		SampleRateHz: sampleRateHz,
		state:        StateAwaitingStart,
	}
}

// State returns the current lifecycle state
func (s *StreamSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transition atomically moves the session from one state to another.
// Returns false without mutating when the session is not in the from state,
// which makes teardown paths idempotent. Closed is terminal.
func (s *StreamSession) Transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from || s.state == StateClosed {
		return false
	}
	s.state = to
	return true
}

// NextInboundSeq increments and returns the accepted-frame counter.
// Diagnostic only; frames are processed in arrival order, never reordered.
func (s *StreamSession) NextInboundSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboundSeq++
	return s.inboundSeq
}

// NextOutboundSeq increments and returns the forwarded-item counter.
// Strictly increasing per session; the receiving system uses it for
// idempotence and ordering.
func (s *StreamSession) NextOutboundSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outboundSeq++
	return s.outboundSeq
}

// AppendFinal appends a finalized transcript segment to the session log.
// Only final segments are logged; partials are forwarded but never appended.
func (s *StreamSession) AppendFinal(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcriptLog = append(s.transcriptLog, text)
}

// TranscriptLen returns the number of finalized segments logged so far
func (s *StreamSession) TranscriptLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transcriptLog)
}

// LastFinals returns up to n most recent finalized segments, oldest first
func (s *StreamSession) LastFinals(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.transcriptLog) {
		n = len(s.transcriptLog)
	}
	out := make([]string, n)
	copy(out, s.transcriptLog[len(s.transcriptLog)-n:])
	return out
}

// FullTranscript joins all finalized segments with spaces
func (s *StreamSession) FullTranscript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Join(s.transcriptLog, " ")
}
