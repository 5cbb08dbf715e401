package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_copilot_active_sessions",
		Help: "Number of active call sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_copilot_sessions_total",
		Help: "Total number of call sessions processed",
	})

	callDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_copilot_call_duration_seconds",
		Help:    "Duration of call sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Frame metrics
	framesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_frames_total",
		Help: "Total number of inbound carrier frames",
	}, []string{"status"}) // accepted, rejected, invalid

	audioBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_copilot_audio_bytes_total",
		Help: "Total inbound audio bytes fed to transcription",
	})

	// Transcript metrics
	transcriptSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_transcript_segments_total",
		Help: "Total transcript segments received from the pipeline",
	}, []string{"type"}) // partial, final

	// Outbound forwarding metrics
	forwardRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_forward_requests_total",
		Help: "Total forward attempts to the case-management backend",
	}, []string{"kind", "status"}) // kind: transcript, intent, kb, disposition

	intentRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_intent_requests_total",
		Help: "Total intent classification requests",
	}, []string{"status"})

	intentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_copilot_intent_latency_seconds",
		Help:    "Intent classification latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	kbRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_kb_requests_total",
		Help: "Total knowledge-base search requests",
	}, []string{"status"})

	dispositionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_disposition_requests_total",
		Help: "Total disposition generation attempts",
	}, []string{"status"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "call_copilot_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"destination"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_copilot_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"destination"})
)

// CallMetrics tracks metrics for a single call session
type CallMetrics struct {
	callID    string
	startTime time.Time
}

// NewCallMetrics creates a new metrics tracker for a call
func NewCallMetrics(callID string) *CallMetrics {
	return &CallMetrics{
		callID:    callID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a call session
func (m *CallMetrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a call session
func (m *CallMetrics) RecordSessionEnd() {
	activeSessions.Dec()
	callDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrame records an inbound carrier frame outcome
func (m *CallMetrics) RecordFrame(status string) {
	RecordFrame(status)
}

// RecordFrame records a frame outcome outside any session, such as an
// invalid frame or media for an unknown stream
func RecordFrame(status string) {
	framesTotal.WithLabelValues(status).Inc()
}

// RecordAudioBytes records audio bytes fed to the pipeline
func (m *CallMetrics) RecordAudioBytes(n int) {
	audioBytesTotal.Add(float64(n))
}

// RecordSegment records a transcript segment by type ("partial" or "final")
func RecordSegment(segmentType string) {
	transcriptSegments.WithLabelValues(segmentType).Inc()
}

// RecordForward records a forward attempt outcome
func RecordForward(kind string, success bool) {
	forwardRequests.WithLabelValues(kind, statusLabel(success)).Inc()
}

// RecordIntent records an intent classification outcome and its latency
func RecordIntent(success bool, elapsed time.Duration) {
	intentRequests.WithLabelValues(statusLabel(success)).Inc()
	intentLatency.Observe(elapsed.Seconds())
}

// RecordKBSearch records a knowledge-base search outcome
func RecordKBSearch(success bool) {
	kbRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordDisposition records a disposition generation outcome
func RecordDisposition(success bool) {
	dispositionRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordError records an error by type and component
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates the circuit breaker state metric
func UpdateCircuitBreakerState(destination string, state int) {
	circuitBreakerState.WithLabelValues(destination).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments the circuit breaker failure counter
func IncrementCircuitBreakerFailures(destination string) {
	circuitBreakerFailures.WithLabelValues(destination).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
