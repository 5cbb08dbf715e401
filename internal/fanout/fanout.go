// Package fanout distributes transcript segments to downstream consumers
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/events"
	"github.com/agentsight/call-copilot/internal/frontend"
	"github.com/agentsight/call-copilot/internal/intent"
	"github.com/agentsight/call-copilot/internal/kb"
	"github.com/agentsight/call-copilot/internal/pipeline"
	"github.com/agentsight/call-copilot/internal/session"
)

// contextFinals is how many earlier finals accompany an intent request
const contextFinals = 5

// Fanout holds the shared downstream consumers. ForSession binds it to one
// call's session.
type Fanout struct {
	frontend  *frontend.Client
	intents   *intent.Detector
	kb        *kb.Service
	events    *events.Publisher
	opTimeout time.Duration
	logger    zerolog.Logger
}

// New creates a fanout over the given consumers. events may be nil when no
// Kafka mirror is configured.
func New(frontendClient *frontend.Client, detector *intent.Detector, kbService *kb.Service, publisher *events.Publisher, opTimeout time.Duration, logger zerolog.Logger) *Fanout {
	return &Fanout{
		frontend:  frontendClient,
		intents:   detector,
		kb:        kbService,
		events:    publisher,
		opTimeout: opTimeout,
		logger:    logger.With().Str("component", "fanout").Logger(),
	}
}

// ForSession binds the fanout to one session
func (f *Fanout) ForSession(sess *session.StreamSession) *SessionFanout {
	return &SessionFanout{
		fan:  f,
		sess: sess,
		logger: f.logger.With().
			Str("call_id", sess.CallID).
			Str("stream_id", sess.StreamID).
			Logger(),
	}
}

// SessionFanout implements pipeline.Sink for one call. Sequence numbers are
// assigned synchronously on the pump goroutine so forwarded segments carry
// strictly increasing seq values; the network work itself runs on short
// per-segment goroutines so a slow consumer never stalls transcription.
type SessionFanout struct {
	fan    *Fanout
	sess   *session.StreamSession
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// OnPartial forwards a partial segment and mirrors it to Kafka
func (s *SessionFanout) OnPartial(seg pipeline.Segment) {
	seq := s.sess.NextOutboundSeq()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.fan.opTimeout)
		defer cancel()

		s.mirror(ctx, seg, seq)
		if err := s.fan.frontend.SendTranscript(ctx, s.sess.CallID, seg.Text, seq, false, s.sess.TenantID); err != nil {
			s.logger.Debug().Err(err).Uint64("seq", seq).Msg("partial forward failed")
		}
	}()
}

// OnFinal records the final in the session transcript, forwards it, then
// runs the intent and KB chain on the same goroutine so intent updates
// never race ahead of the transcript they belong to
func (s *SessionFanout) OnFinal(seg pipeline.Segment) {
	seq := s.sess.NextOutboundSeq()
	priorFinals := s.sess.LastFinals(contextFinals)
	s.sess.AppendFinal(seg.Text)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.fan.opTimeout)
		defer cancel()

		s.mirror(ctx, seg, seq)
		if err := s.fan.frontend.SendTranscript(ctx, s.sess.CallID, seg.Text, seq, true, s.sess.TenantID); err != nil {
			s.logger.Warn().Err(err).Uint64("seq", seq).Msg("final forward failed")
		}

		result := s.fan.intents.Detect(ctx, seg.Text, priorFinals)
		if result.Intent == intent.Unknown {
			return
		}
		s.fan.frontend.SendIntent(ctx, s.sess.CallID, result.Intent, result.Confidence, s.sess.TenantID)

		articles := s.fan.kb.SearchByIntent(ctx, result.Intent, seg.Text, s.sess.TenantID)
		s.fan.frontend.SendKBArticles(ctx, s.sess.CallID, articles, s.sess.TenantID)
	}()
}

func (s *SessionFanout) mirror(ctx context.Context, seg pipeline.Segment, seq uint64) {
	if s.fan.events == nil {
		return
	}
	s.fan.events.Publish(ctx, &events.TranscriptEvent{
		CallID:     s.sess.CallID,
		StreamID:   s.sess.StreamID,
		TenantID:   s.sess.TenantID,
		Seq:        seq,
		Text:       seg.Text,
		IsFinal:    seg.IsFinal,
		Confidence: seg.Confidence,
		Timestamp:  time.Now().UnixMilli(),
	})
}

// Drain waits for in-flight forwards to finish, up to the context deadline
func (s *SessionFanout) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("timed out waiting for fanout to drain")
	}
}
