package stt

import (
	"fmt"
	"sync"
)

// mockUtterances is the default script emitted by the mock client
var mockUtterances = []string{
	"hello I am calling about my credit card",
	"I noticed a charge I do not recognize on my statement",
	"yes please block the card and send a replacement",
}

// MockClient is a scripted STT client for local development and tests.
// Every audioPerFinal bytes of audio it emits one partial followed by one
// final from its script.
type MockClient struct {
	mu            sync.Mutex
	results       chan *Result
	script        []string
	scriptIndex   int
	bytesReceived int
	audioPerFinal int
	isActive      bool
	closed        bool
}

// NewMockClient creates a mock client with the default script
func NewMockClient() *MockClient {
	return NewMockClientWithScript(mockUtterances, 16000)
}

// NewMockClientWithScript creates a mock client that emits the given
// utterances, one per audioPerFinal bytes of audio received
func NewMockClientWithScript(script []string, audioPerFinal int) *MockClient {
	return &MockClient{
		results:       make(chan *Result, 100),
		script:        script,
		audioPerFinal: audioPerFinal,
	}
}

// Start begins the mock session
func (m *MockClient) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isActive {
		return fmt.Errorf("mock client is already active")
	}
	m.isActive = true
	return nil
}

// SendAudio accepts audio and emits scripted results at byte thresholds
func (m *MockClient) SendAudio(audioData []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isActive {
		return fmt.Errorf("mock client is not active")
	}

	m.bytesReceived += len(audioData)
	for m.bytesReceived >= m.audioPerFinal && m.scriptIndex < len(m.script) {
		m.bytesReceived -= m.audioPerFinal
		text := m.script[m.scriptIndex]
		m.scriptIndex++

		m.emit(&Result{Text: text, IsFinal: false, Confidence: 0.5})
		m.emit(&Result{Text: text, IsFinal: true, Confidence: 0.95})
	}
	return nil
}

func (m *MockClient) emit(r *Result) {
	select {
	case m.results <- r:
	default:
	}
}

// Results returns the channel of scripted results
func (m *MockClient) Results() <-chan *Result {
	return m.results
}

// Stop ends the session, flushing any remaining scripted finals
func (m *MockClient) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isActive {
		return nil
	}
	m.isActive = false

	// Flush what the caller "said" but never crossed a threshold for
	if m.bytesReceived > 0 && m.scriptIndex < len(m.script) {
		text := m.script[m.scriptIndex]
		m.scriptIndex++
		m.emit(&Result{Text: text, IsFinal: true, Confidence: 0.9})
	}
	return nil
}

// Close closes the client and its results channel
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.isActive = false
	m.closed = true
	close(m.results)
	return nil
}
