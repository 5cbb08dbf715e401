// Package events mirrors transcript segments onto Kafka topics
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// TranscriptEvent is the record published for every transcript segment
type TranscriptEvent struct {
	CallID     string  `json:"callId"`
	StreamID   string  `json:"streamId"`
	TenantID   string  `json:"tenantId"`
	Seq        uint64  `json:"seq"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"isFinal"`
	Confidence float64 `json:"confidence"`
	Timestamp  int64   `json:"timestamp"`
}

// Publisher mirrors partial and final transcript segments to separate
// Kafka topics. When no brokers are configured it degrades to log-only
// mode; publishing failures never propagate to the audio path.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	topicPartial  string
	topicFinal    string
	enabled       bool
	logger        zerolog.Logger
}

// Config holds Kafka publisher configuration
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
}

// New creates a publisher with separate topics for partial and final
// transcripts. A nil config or empty broker list yields log-only mode.
func New(cfg *Config, logger zerolog.Logger) *Publisher {
	pubLogger := logger.With().Str("component", "events").Logger()

	if cfg == nil || len(cfg.Brokers) == 0 {
		pubLogger.Info().Msg("Kafka disabled, using log-only mode")
		return &Publisher{enabled: false, logger: pubLogger}
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	writerPartial := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicPartial,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
	writerFinal := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.TopicFinal,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}

	pubLogger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic_partial", cfg.TopicPartial).
		Str("topic_final", cfg.TopicFinal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerPartial: writerPartial,
		writerFinal:   writerFinal,
		topicPartial:  cfg.TopicPartial,
		topicFinal:    cfg.TopicFinal,
		enabled:       true,
		logger:        pubLogger,
	}
}

// Publish mirrors one transcript segment, keyed by call ID so all of a
// call's segments land on one partition
func (p *Publisher) Publish(ctx context.Context, event *TranscriptEvent) {
	if p == nil {
		return
	}

	writer := p.writerPartial
	topic := p.topicPartial
	if event.IsFinal {
		writer = p.writerFinal
		topic = p.topicFinal
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("failed to marshal transcript event")
		return
	}

	if !p.enabled || writer == nil {
		p.logger.Debug().
			Str("call_id", event.CallID).
			RawJSON("payload", payload).
			Msg("transcript event (log-only)")
		return
	}

	msg := kafka.Message{
		Key:   []byte(event.CallID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(topic)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error().
			Err(err).
			Str("topic", topic).
			Str("call_id", event.CallID).
			Msg("failed to write to Kafka")
	}
}

// Close closes both Kafka writers
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}

	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			p.logger.Error().Err(e).Msg("error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			p.logger.Error().Err(e).Msg("error closing final writer")
			err = e
		}
	}
	return err
}
