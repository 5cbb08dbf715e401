package stt

// Result represents one transcription result from the STT provider
type Result struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates a final transcription (true) or a partial (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// Client is the interface for streaming speech-to-text clients. One client
// serves one call; Start/Stop bracket the session.
type Client interface {
	// Start begins a new transcription session
	Start() error

	// SendAudio sends an audio chunk to the STT service
	SendAudio(audioData []byte) error

	// Results returns the channel of transcription results. The channel is
	// closed after Close.
	Results() <-chan *Result

	// Stop ends the transcription session, flushing any pending results
	Stop() error

	// Close closes the client and cleans up resources
	Close() error
}

// Factory creates one STT client per call at the session's sample rate
type Factory func(callID string, sampleRateHz int) (Client, error)
