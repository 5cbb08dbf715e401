package carrier

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// EventType enumerates the carrier protocol event kinds
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
	EventDtmf      EventType = "dtmf"
	EventMark      EventType = "mark"
)

// StartEvent carries the session parameters announced by the carrier.
// SampleRateHz is the normalized rate; DeclaredRateHz is what the carrier
// actually sent on the wire.
type StartEvent struct {
	StreamID       string
	CallID         string
	AccountID      string
	FromNumber     string
	ToNumber       string
	Encoding       string
	SampleRateHz   int
	DeclaredRateHz int
	RateWarning    bool
	CustomParams   map[string]string
}

// MediaEvent carries one decoded audio frame. Rejected marks a frame whose
// stream has no Active session; the orchestrator drops it with a warning.
type MediaEvent struct {
	StreamID    string
	Seq         uint64
	TimestampMs int64
	Audio       []byte
	Rejected    bool
}

// StopEvent signals the end of the stream
type StopEvent struct {
	StreamID string
	Reason   string
}

// Event is one parsed inbound carrier frame
type Event struct {
	Type     EventType
	StreamID string
	Start    *StartEvent
	Media    *MediaEvent
	Stop     *StopEvent
}

// StateLookup answers whether a stream currently has an Active session.
// Implemented by the session registry.
type StateLookup interface {
	IsActive(streamID string) bool
}

// Codec parses inbound carrier JSON frames into typed events
type Codec struct {
	sessions StateLookup
}

// NewCodec creates a codec backed by the given session state lookup
func NewCodec(sessions StateLookup) *Codec {
	return &Codec{sessions: sessions}
}

// flexInt tolerates numeric fields the carrier sends either as JSON numbers
// or as quoted strings ("8000"). An unparseable value is recorded as bad so
// callers can tell garbage from an absent field.
type flexInt struct {
	value int64
	set   bool
	bad   bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f.bad = true
		return nil
	}
	f.value = v
	f.set = true
	return nil
}

type wireMessage struct {
	Event          string     `json:"event"`
	SequenceNumber flexInt    `json:"sequence_number"`
	StreamSid      string     `json:"stream_sid"`
	Start          *wireStart `json:"start"`
	Media          *wireMedia `json:"media"`
	Stop           *wireStop  `json:"stop"`
}

type wireStart struct {
	CallSid          string            `json:"call_sid"`
	AccountSid       string            `json:"account_sid"`
	From             string            `json:"from"`
	To               string            `json:"to"`
	MediaFormat      wireMediaFormat   `json:"media_format"`
	CustomParameters map[string]string `json:"custom_parameters"`
}

type wireMediaFormat struct {
	Encoding   string  `json:"encoding"`
	SampleRate flexInt `json:"sample_rate"`
}

type wireMedia struct {
	Chunk     flexInt `json:"chunk"`
	Timestamp flexInt `json:"timestamp"`
	Payload   string  `json:"payload"`
}

type wireStop struct {
	CallSid string `json:"call_sid"`
	Reason  string `json:"reason"`
}

// base64Pattern matches the standard base64 alphabet with optional padding
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Carrier sample rates: 8000 and 16000 pass through, 24000 is normalized to
// 16000 for better STT quality at lower bandwidth, anything else falls back
// to the 8000 safe default with a warning.
const (
	rateNarrowband = 8000
	rateWideband   = 16000
	rateSuperWide  = 24000
)

// NormalizeSampleRate applies the carrier rate policy. The warned return is
// true when the declared rate was outside the accepted set.
func NormalizeSampleRate(declared int) (normalized int, warned bool) {
	switch declared {
	case rateNarrowband, rateWideband:
		return declared, false
	case rateSuperWide:
		return rateWideband, false
	default:
		return rateNarrowband, true
	}
}

// Decode parses one inbound text frame into a typed event. Malformed JSON or
// an unrecognized event field yields a ParseError; an invalid media payload
// yields a PayloadError. Neither is fatal for the connection.
func (c *Codec) Decode(raw []byte) (*Event, error) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, &ParseError{Reason: "malformed JSON", Cause: err}
	}

	switch EventType(msg.Event) {
	case EventConnected:
		return &Event{Type: EventConnected, StreamID: msg.StreamSid}, nil

	case EventStart:
		return c.decodeStart(&msg)

	case EventMedia:
		return c.decodeMedia(&msg)

	case EventStop:
		reason := "unknown"
		if msg.Stop != nil && msg.Stop.Reason != "" {
			reason = msg.Stop.Reason
		}
		return &Event{
			Type:     EventStop,
			StreamID: msg.StreamSid,
			Stop:     &StopEvent{StreamID: msg.StreamSid, Reason: reason},
		}, nil

	case EventDtmf:
		return &Event{Type: EventDtmf, StreamID: msg.StreamSid}, nil

	case EventMark:
		return &Event{Type: EventMark, StreamID: msg.StreamSid}, nil

	default:
		return nil, &ParseError{Reason: "unknown event type: " + msg.Event}
	}
}

func (c *Codec) decodeStart(msg *wireMessage) (*Event, error) {
	if msg.Start == nil {
		return nil, &ParseError{Reason: "start event missing start payload"}
	}
	if msg.StreamSid == "" {
		return nil, &ParseError{Reason: "start event missing stream_sid"}
	}

	declared := rateNarrowband
	if msg.Start.MediaFormat.SampleRate.set {
		declared = int(msg.Start.MediaFormat.SampleRate.value)
	}
	normalized, warned := NormalizeSampleRate(declared)
	if msg.Start.MediaFormat.SampleRate.bad {
		// Garbage counts as out of set even though the default is safe
		warned = true
	}

	encoding := msg.Start.MediaFormat.Encoding
	if encoding == "" {
		encoding = "pcm16"
	}

	return &Event{
		Type:     EventStart,
		StreamID: msg.StreamSid,
		Start: &StartEvent{
			StreamID:       msg.StreamSid,
			CallID:         msg.Start.CallSid,
			AccountID:      msg.Start.AccountSid,
			FromNumber:     msg.Start.From,
			ToNumber:       msg.Start.To,
			Encoding:       encoding,
			SampleRateHz:   normalized,
			DeclaredRateHz: declared,
			RateWarning:    warned,
			CustomParams:   msg.Start.CustomParameters,
		},
	}, nil
}

func (c *Codec) decodeMedia(msg *wireMessage) (*Event, error) {
	if msg.Media == nil {
		return nil, &ParseError{Reason: "media event missing media payload"}
	}

	payload := msg.Media.Payload
	if payload == "" {
		return nil, &PayloadError{Reason: "missing or empty payload"}
	}
	if !base64Pattern.MatchString(payload) {
		return nil, &PayloadError{Reason: "payload is not valid base64"}
	}

	audio, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &PayloadError{Reason: "base64 decode failed", Cause: err}
	}

	rejected := c.sessions == nil || !c.sessions.IsActive(msg.StreamSid)

	var seq uint64
	if msg.SequenceNumber.set {
		seq = uint64(msg.SequenceNumber.value)
	}

	return &Event{
		Type:     EventMedia,
		StreamID: msg.StreamSid,
		Media: &MediaEvent{
			StreamID:    msg.StreamSid,
			Seq:         seq,
			TimestampMs: msg.Media.Timestamp.value,
			Audio:       audio,
			Rejected:    rejected,
		},
	}, nil
}
