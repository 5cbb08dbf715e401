package stt

import (
	"context"
	"fmt"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/agentsight/call-copilot/internal/config"
	"github.com/agentsight/call-copilot/internal/resilience"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides only the methods we customize.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements Client using Deepgram's streaming API.
// One instance serves one call at a fixed sample rate.
type DeepgramClient struct {
	cfg          *config.Config
	logger       zerolog.Logger
	sampleRateHz int
	client       *listenClient.WSCallback
	results      chan *Result
	mu           sync.RWMutex
	isActive     bool
	ctx          context.Context
	cancel       context.CancelFunc
}

// NewDeepgramClient creates a streaming client for one call's audio
func NewDeepgramClient(cfg *config.Config, logger zerolog.Logger, sampleRateHz int) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	return &DeepgramClient{
		cfg:          cfg,
		logger:       logger.With().Str("component", "deepgram").Logger(),
		sampleRateHz: sampleRateHz,
		results:      make(chan *Result, 100),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start begins a new Deepgram streaming transcription session
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.DeepgramModel,
		Language:       d.cfg.DeepgramLanguage,
		Punctuate:      true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.sampleRateHz,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().
				Str("description", errorResponse.Description).
				Msg("Deepgram stream error")

			select {
			case <-d.ctx.Done():
				return nil
			default:
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()

				go d.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.cfg.DeepgramAPIKey,
		nil,
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.logger.Info().
		Str("model", d.cfg.DeepgramModel).
		Str("language", d.cfg.DeepgramLanguage).
		Int("sample_rate", d.sampleRateHz).
		Msg("Deepgram streaming client started")
	return nil
}

func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case "Metadata":
		d.logger.Debug().Msg("Deepgram metadata received")

	case "SpeechStarted":
		d.logger.Debug().Msg("speech started")

	case "UtteranceEnd":
		d.logger.Debug().Msg("utterance ended")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			lastWord := alt.Words[len(alt.Words)-1]
			duration = lastWord.End - startTime
		}

		result := &Result{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		}

		select {
		case d.results <- result:
			if result.IsFinal {
				d.logger.Debug().
					Str("text", alt.Transcript).
					Float64("confidence", alt.Confidence).
					Msg("final transcription")
			}
		default:
			d.logger.Warn().Msg("results channel full, dropping transcription")
		}

	default:
		d.logger.Debug().
			Str("type", msg.Type).
			Msg("unhandled Deepgram message type")
	}
}

// SendAudio sends an audio chunk to Deepgram
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	d.mu.RLock()
	active := d.isActive
	client := d.client
	d.mu.RUnlock()

	if !active || client == nil {
		return fmt.Errorf("deepgram client is not active")
	}

	if _, err := client.Write(audioData); err != nil {
		go d.attemptReconnect()
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	return nil
}

func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()

	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.cfg.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.cfg.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	err := resilience.Reconnect(d.ctx, d.logger, func() error {
		return d.Start()
	}, reconnectConfig)

	if err != nil {
		d.logger.Error().Err(err).Msg("failed to reconnect Deepgram client")
	} else {
		d.logger.Info().Msg("reconnected Deepgram client")
	}
}

// Results returns the channel of transcription results
func (d *DeepgramClient) Results() <-chan *Result {
	return d.results
}

// Stop ends the Deepgram streaming session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	d.logger.Info().Msg("Deepgram streaming client stopped")
	return nil
}

// Close closes the client and cleans up resources
func (d *DeepgramClient) Close() error {
	d.cancel()

	if err := d.Stop(); err != nil {
		return err
	}

	// Close the results channel after a short delay to allow pending reads
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.results)
	}()

	return nil
}

// IsActive reports whether the client is currently streaming
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}

// NewFactory returns a Factory for the configured STT provider
func NewFactory(cfg *config.Config, logger zerolog.Logger) (Factory, error) {
	switch cfg.STTProvider {
	case "deepgram":
		return func(callID string, sampleRateHz int) (Client, error) {
			callLogger := logger.With().Str("call_id", callID).Logger()
			return NewDeepgramClient(cfg, callLogger, sampleRateHz), nil
		}, nil
	case "mock":
		return func(callID string, sampleRateHz int) (Client, error) {
			return NewMockClient(), nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported STT provider: %s (supported: deepgram, mock)", cfg.STTProvider)
	}
}
