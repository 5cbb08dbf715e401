// Package pipeline manages per-call transcription pipelines
package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/audio"
	"github.com/agentsight/call-copilot/internal/config"
	"github.com/agentsight/call-copilot/internal/observability"
	"github.com/agentsight/call-copilot/internal/stt"
)

// Segment is one transcript segment produced by a pipeline
type Segment struct {
	Text       string
	IsFinal    bool
	Confidence float64
	StartTime  float64
	Duration   float64
}

// Sink receives transcript segments from a pipeline. Callbacks run on the
// pipeline's pump goroutine; implementations must not block on network work.
type Sink interface {
	OnPartial(seg Segment)
	OnFinal(seg Segment)
}

// SessionFatalError marks a pipeline failure that should end the session
type SessionFatalError struct {
	StreamID string
	Cause    error
}

func (e *SessionFatalError) Error() string {
	return fmt.Sprintf("fatal pipeline error for stream %s: %v", e.StreamID, e.Cause)
}

func (e *SessionFatalError) Unwrap() error {
	return e.Cause
}

// Pipeline is one call's audio-to-transcript path: a buffered audio queue
// feeding the STT client, and a pump delivering results to the sink
type Pipeline struct {
	streamID string
	callID   string
	client   stt.Client
	sink     Sink
	decimate bool
	audioC   chan []byte
	done     chan struct{}
	pumpDone chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// Feed queues one audio frame for transcription. It never blocks: when the
// queue is full the frame is dropped with a warning so a slow STT link
// cannot back-pressure the carrier socket.
func (p *Pipeline) Feed(frame []byte) {
	select {
	case <-p.done:
	case p.audioC <- frame:
	default:
		p.logger.Warn().
			Str("stream_id", p.streamID).
			Msg("audio queue full, dropping frame")
		observability.RecordError("audio_queue_full", "pipeline")
	}
}

// feeder moves audio frames from the queue into the STT client
func (p *Pipeline) feeder() {
	for {
		select {
		case <-p.done:
			return
		case frame, ok := <-p.audioC:
			if !ok {
				return
			}
			if p.decimate {
				frame = audio.Decimate24kTo16k(frame)
			}
			if err := p.client.SendAudio(frame); err != nil {
				p.logger.Warn().Err(err).
					Str("stream_id", p.streamID).
					Msg("failed to send audio to STT")
			}
		}
	}
}

// pump delivers STT results to the sink until the results channel closes
func (p *Pipeline) pump() {
	defer close(p.pumpDone)

	for result := range p.client.Results() {
		seg := Segment{
			Text:       result.Text,
			IsFinal:    result.IsFinal,
			Confidence: result.Confidence,
			StartTime:  result.StartTime,
			Duration:   result.Duration,
		}
		if seg.IsFinal {
			observability.RecordSegment("final")
			p.sink.OnFinal(seg)
		} else {
			observability.RecordSegment("partial")
			p.sink.OnPartial(seg)
		}
	}
}

// stop flushes the STT session and waits for pending results to drain
func (p *Pipeline) stop(timeout time.Duration) {
	p.stopOnce.Do(func() {
		close(p.done)

		if err := p.client.Stop(); err != nil {
			p.logger.Warn().Err(err).Msg("error stopping STT client")
		}
		if err := p.client.Close(); err != nil {
			p.logger.Warn().Err(err).Msg("error closing STT client")
		}

		select {
		case <-p.pumpDone:
		case <-time.After(timeout):
			p.logger.Warn().
				Str("stream_id", p.streamID).
				Msg("timed out draining transcript pump")
		}
	})
}

// Manager creates and tears down pipelines, one per active stream. It also
// owns the outbound HTTP client shared by all forwarding components, built
// lazily on first use.
type Manager struct {
	cfg     *config.Config
	factory stt.Factory
	logger  zerolog.Logger

	mu        sync.Mutex
	pipelines map[string]*Pipeline

	httpOnce   sync.Once
	httpClient *http.Client
}

// NewManager creates a pipeline manager
func NewManager(cfg *config.Config, factory stt.Factory, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		factory:   factory,
		logger:    logger.With().Str("component", "pipeline").Logger(),
		pipelines: make(map[string]*Pipeline),
	}
}

// HTTPClient returns the shared outbound HTTP client
func (m *Manager) HTTPClient() *http.Client {
	m.httpOnce.Do(func() {
		m.httpClient = &http.Client{
			Timeout: time.Duration(m.cfg.RequestTimeout) * time.Second,
		}
	})
	return m.httpClient
}

// Create builds and starts a pipeline for the given stream. decimate marks
// sessions whose carrier audio arrives at 24kHz and must be downsampled to
// the 16kHz rate announced to the STT provider.
func (m *Manager) Create(streamID, callID string, sampleRateHz int, decimate bool, sink Sink) (*Pipeline, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.pipelines[streamID]; ok {
		m.logger.Warn().Str("stream_id", streamID).Msg("pipeline already exists, reusing")
		return existing, nil
	}

	client, err := m.factory(callID, sampleRateHz)
	if err != nil {
		return nil, &SessionFatalError{StreamID: streamID, Cause: err}
	}
	if err := client.Start(); err != nil {
		return nil, &SessionFatalError{StreamID: streamID, Cause: err}
	}

	p := &Pipeline{
		streamID: streamID,
		callID:   callID,
		client:   client,
		sink:     sink,
		decimate: decimate,
		audioC:   make(chan []byte, m.cfg.AudioQueueSize),
		done:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		logger:   m.logger,
	}
	go p.feeder()
	go p.pump()

	m.pipelines[streamID] = p

	m.logger.Info().
		Str("stream_id", streamID).
		Str("call_id", callID).
		Int("sample_rate", sampleRateHz).
		Bool("decimate", decimate).
		Msg("pipeline created")
	return p, nil
}

// Get returns the pipeline for a stream, or nil
func (m *Manager) Get(streamID string) *Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pipelines[streamID]
}

// Stop tears down a stream's pipeline, flushing pending transcripts.
// Idempotent: stopping an unknown stream is a no-op.
func (m *Manager) Stop(streamID string) {
	m.mu.Lock()
	p := m.pipelines[streamID]
	delete(m.pipelines, streamID)
	m.mu.Unlock()

	if p == nil {
		return
	}
	p.stop(5 * time.Second)
	m.logger.Info().Str("stream_id", streamID).Msg("pipeline stopped")
}

// Shutdown stops every pipeline and releases shared resources
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	remaining := make([]*Pipeline, 0, len(m.pipelines))
	for id, p := range m.pipelines {
		remaining = append(remaining, p)
		delete(m.pipelines, id)
	}
	m.mu.Unlock()

	for _, p := range remaining {
		p.stop(2 * time.Second)
	}

	if m.httpClient != nil {
		m.httpClient.CloseIdleConnections()
	}
	m.logger.Info().Int("stopped", len(remaining)).Msg("pipeline manager shut down")
}

// Len reports the number of live pipelines
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pipelines)
}
