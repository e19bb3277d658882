package protocol

import "time"

// MorseRequest asks the tone service to synthesize text as Morse audio.
type MorseRequest struct {
	SessionID  string  `json:"session_id"`
	Text       string  `json:"text"`
	Target     string  `json:"target,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Frequency  float64 `json:"frequency,omitempty"`
	Amplitude  float64 `json:"amplitude,omitempty"`
}

// AudioChunk carries little-endian 16-bit PCM produced for a request.
type AudioChunk struct {
	SessionID  string `json:"session_id"`
	Target     string `json:"target,omitempty"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// MorseStatus closes out a request. Error is set when synthesis failed or
// audio chunks could not be published.
type MorseStatus struct {
	SessionID string    `json:"session_id"`
	Target    string    `json:"target,omitempty"`
	Morse     string    `json:"morse,omitempty"`
	Units     int       `json:"units,omitempty"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectMorseRequest = "morse.request"
	SubjectMorseAudio   = "morse.audio"
	SubjectMorseDone    = "morse.done"

	// SubjectNodeBeaconPrefix is followed by the node id.
	SubjectNodeBeaconPrefix = "morse.node."
)
