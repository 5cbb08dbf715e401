// Package telephony terminates carrier WebSocket streams and drives the
// per-call session lifecycle
package telephony

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/carrier"
	"github.com/agentsight/call-copilot/internal/config"
	"github.com/agentsight/call-copilot/internal/disposition"
	"github.com/agentsight/call-copilot/internal/fanout"
	"github.com/agentsight/call-copilot/internal/frontend"
	"github.com/agentsight/call-copilot/internal/observability"
	"github.com/agentsight/call-copilot/internal/pipeline"
	"github.com/agentsight/call-copilot/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// In production, validate origin against the carrier's IP ranges
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// drainTimeout bounds how long a closing call may spend flushing forwards
// and generating its disposition
const drainTimeout = 30 * time.Second

// Handler wires carrier connections to sessions, pipelines, and fan-out
type Handler struct {
	cfg          *config.Config
	registry     *session.Registry
	codec        *carrier.Codec
	pipelines    *pipeline.Manager
	fan          *fanout.Fanout
	dispositions *disposition.Generator
	frontend     *frontend.Client
	logger       zerolog.Logger
}

// NewHandler creates the stream handler
func NewHandler(cfg *config.Config, registry *session.Registry, pipelines *pipeline.Manager, fan *fanout.Fanout, dispositions *disposition.Generator, frontendClient *frontend.Client, logger zerolog.Logger) *Handler {
	return &Handler{
		cfg:          cfg,
		registry:     registry,
		codec:        carrier.NewCodec(registry),
		pipelines:    pipelines,
		fan:          fan,
		dispositions: dispositions,
		frontend:     frontendClient,
		logger:       logger.With().Str("component", "telephony").Logger(),
	}
}

// callState tracks one stream bound to a connection
type callState struct {
	sess         *session.StreamSession
	sessionFan   *fanout.SessionFanout
	pipe         *pipeline.Pipeline
	metrics      *observability.CallMetrics
	teardownOnce sync.Once
}

// connSession is the per-connection read loop state
type connSession struct {
	h       *Handler
	conn    *websocket.Conn
	logger  zerolog.Logger
	mu      sync.Mutex
	streams map[string]*callState
}

// ServeWS upgrades the carrier connection and runs its read loop
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to upgrade connection")
		return
	}
	defer conn.Close()

	correlationID := observability.NewCorrelationID()
	cs := &connSession{
		h:       h,
		conn:    conn,
		logger:  h.logger.With().Str("correlation_id", correlationID).Logger(),
		streams: make(map[string]*callState),
	}
	cs.logger.Info().Str("remote", r.RemoteAddr).Msg("carrier connection established")

	cs.readLoop()

	// Socket gone: tear down whatever the carrier never stopped
	cs.mu.Lock()
	orphans := make([]*callState, 0, len(cs.streams))
	for _, st := range cs.streams {
		orphans = append(orphans, st)
	}
	cs.mu.Unlock()
	for _, st := range orphans {
		cs.teardown(st, "connection_closed")
	}
	cs.logger.Info().Msg("carrier connection closed")
}

func (cs *connSession) readLoop() {
	for {
		msgType, raw, err := cs.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				cs.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		cs.handleMessage(raw)
	}
}

// handleMessage decodes one frame and dispatches it. Malformed frames are
// logged and skipped; only a defective socket ends the loop.
func (cs *connSession) handleMessage(raw []byte) {
	event, err := cs.h.codec.Decode(raw)
	if err != nil {
		var parseErr *carrier.ParseError
		var payloadErr *carrier.PayloadError
		switch {
		case errors.As(err, &payloadErr):
			cs.logger.Warn().Err(err).Msg("invalid media payload, frame dropped")
		case errors.As(err, &parseErr):
			cs.logger.Warn().Err(err).Msg("unparseable carrier frame, dropped")
		default:
			cs.logger.Warn().Err(err).Msg("carrier frame rejected")
		}
		observability.RecordFrame("invalid")
		observability.RecordError("invalid_frame", "telephony")
		return
	}

	switch event.Type {
	case carrier.EventConnected:
		cs.logger.Info().Msg("carrier handshake received")

	case carrier.EventStart:
		cs.handleStart(event.Start)

	case carrier.EventMedia:
		cs.handleMedia(event.Media)

	case carrier.EventStop:
		cs.handleStop(event.Stop)

	case carrier.EventDtmf:
		cs.logger.Debug().Str("stream_id", event.StreamID).Msg("dtmf received")

	case carrier.EventMark:
		cs.logger.Debug().Str("stream_id", event.StreamID).Msg("mark received")
	}
}

func (cs *connSession) handleStart(start *carrier.StartEvent) {
	logger := cs.logger.With().
		Str("stream_id", start.StreamID).
		Str("call_id", start.CallID).
		Logger()

	if start.RateWarning {
		logger.Warn().
			Int("declared_rate", start.DeclaredRateHz).
			Int("normalized_rate", start.SampleRateHz).
			Msg("unsupported sample rate, using safe default")
	}

	sess := session.New(start.StreamID, start.CallID, start.AccountID, start.SampleRateHz)
	sess, created := cs.h.registry.Create(sess)
	if !created {
		logger.Warn().Msg("duplicate start for existing stream, ignored")
		return
	}

	sessionFan := cs.h.fan.ForSession(sess)
	decimate := start.DeclaredRateHz == 24000
	pipe, err := cs.h.pipelines.Create(start.StreamID, start.CallID, sess.SampleRateHz, decimate, sessionFan)
	if err != nil {
		logger.Error().Err(err).Msg("failed to create pipeline, abandoning session")
		observability.RecordError("pipeline_create", "telephony")
		cs.h.registry.Remove(start.StreamID)
		return
	}

	if !sess.Transition(session.StateAwaitingStart, session.StateActive) {
		logger.Error().Str("state", sess.State().String()).Msg("unexpected session state on start")
		cs.h.pipelines.Stop(start.StreamID)
		cs.h.registry.Remove(start.StreamID)
		return
	}

	metrics := observability.NewCallMetrics(start.CallID)
	metrics.RecordSessionStart()

	st := &callState{
		sess:       sess,
		sessionFan: sessionFan,
		pipe:       pipe,
		metrics:    metrics,
	}
	cs.mu.Lock()
	cs.streams[start.StreamID] = st
	cs.mu.Unlock()

	logger.Info().
		Str("from", start.FromNumber).
		Str("to", start.ToNumber).
		Str("tenant", sess.TenantID).
		Int("sample_rate", sess.SampleRateHz).
		Msg("call session started")
}

func (cs *connSession) handleMedia(media *carrier.MediaEvent) {
	cs.mu.Lock()
	st := cs.streams[media.StreamID]
	cs.mu.Unlock()

	if media.Rejected || st == nil || st.sess.State() != session.StateActive {
		cs.logger.Warn().
			Str("stream_id", media.StreamID).
			Msg("media for inactive stream, dropped")
		observability.RecordFrame("rejected")
		return
	}

	seq := st.sess.NextInboundSeq()
	if seq <= 3 {
		cs.logger.Debug().
			Str("stream_id", media.StreamID).
			Uint64("seq", seq).
			Int("bytes", len(media.Audio)).
			Msg("media frame received")
	}
	st.metrics.RecordFrame("accepted")
	st.metrics.RecordAudioBytes(len(media.Audio))
	st.pipe.Feed(media.Audio)
}

func (cs *connSession) handleStop(stop *carrier.StopEvent) {
	cs.mu.Lock()
	st := cs.streams[stop.StreamID]
	cs.mu.Unlock()

	if st == nil {
		cs.logger.Debug().Str("stream_id", stop.StreamID).Msg("stop for unknown stream, ignored")
		return
	}
	cs.teardown(st, stop.Reason)
}

// teardown drains one call exactly once: the pipeline flushes pending
// transcripts, the fan-out settles, and the disposition is generated from
// whatever transcript exists. A repeated stop is a no-op.
func (cs *connSession) teardown(st *callState, reason string) {
	st.teardownOnce.Do(func() {
		logger := cs.logger.With().
			Str("stream_id", st.sess.StreamID).
			Str("call_id", st.sess.CallID).
			Logger()

		if !st.sess.Transition(session.StateActive, session.StateDraining) {
			logger.Debug().Str("state", st.sess.State().String()).Msg("session already past active")
		}
		logger.Info().Str("reason", reason).Msg("call session draining")

		cs.mu.Lock()
		delete(cs.streams, st.sess.StreamID)
		cs.mu.Unlock()

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()

			// Flush the STT pipeline first so late finals reach the
			// fan-out before we wait on it. Off the read loop: a slow
			// flush must not stall other streams on this connection.
			cs.h.pipelines.Stop(st.sess.StreamID)
			st.sessionFan.Drain(ctx)

			if st.sess.TranscriptLen() > 0 {
				summary := cs.h.dispositions.Generate(ctx, st.sess.FullTranscript(), st.sess.CallID)
				if err := cs.h.frontend.SendDisposition(ctx, st.sess.CallID, summary, st.sess.TenantID); err != nil {
					logger.Error().Err(err).Msg("disposition forward failed")
				}
			} else {
				logger.Info().Msg("no transcript captured, skipping disposition")
			}

			st.sess.Transition(session.StateDraining, session.StateClosed)
			cs.h.registry.Remove(st.sess.StreamID)
			st.metrics.RecordSessionEnd()
			logger.Info().Msg("call session closed")
		}()
	})
}
