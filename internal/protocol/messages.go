package protocol

import "time"

// Transcript represents STT output broadcast on the bus.
type Transcript struct {
	SessionID  string    `json:"session_id"`
	Text       string    `json:"text"`
	Partial    bool      `json:"partial"`
	Spoken     bool      `json:"spoken,omitempty"`
	Voice      string    `json:"voice,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Confidence float64   `json:"confidence,omitempty"`
	Stability  float64   `json:"stability,omitempty"`
}

// SessionState is published whenever the session phase or a flag changes.
type SessionState struct {
	SessionID string    `json:"session_id,omitempty"`
	Phase     string    `json:"phase"`
	Listening bool      `json:"listening"`
	Muted     bool      `json:"muted"`
	Voice     string    `json:"voice,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ControlCommand is a remote hotkey press, e.g. {"command":"select_voice","slot":2}.
type ControlCommand struct {
	Command string `json:"command"`
	Slot    int    `json:"slot,omitempty"`
}

const (
	SubjectTranscriptPartial = "parrot.transcript.partial"
	SubjectTranscriptFinal   = "parrot.transcript.final"
	SubjectSessionState      = "parrot.session.state"
	SubjectControl           = "parrot.control"

	// StreamTranscripts retains final transcripts when JetStream is available.
	StreamTranscripts = "PARROT_TRANSCRIPTS"
)
