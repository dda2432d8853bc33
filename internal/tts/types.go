package tts

import "context"

// SynthRequest contains parameters to synthesize speech.
type SynthRequest struct {
	SessionID string
	Text      string
	Voice     string
}

// SynthChunk contains PCM data.
type SynthChunk struct {
	SessionID  string
	Sequence   int
	SampleRate int
	Channels   int
	PCM        []byte
	Final      bool
}

// Voice is an installed voice as reported by the engine.
type Voice struct {
	ID       string
	Name     string
	Language string
}

// Synthesizer is the contract for producing audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error)
}

// VoiceLister enumerates installed voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}

// Engine is a synthesizer that can also list its voices.
type Engine interface {
	Synthesizer
	VoiceLister
}

// Player renders PCM to an output device and blocks until playback ends.
type Player interface {
	Play(ctx context.Context, pcm []byte, sampleRate, channels int) error
}
