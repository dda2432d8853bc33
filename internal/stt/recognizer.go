package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

// ErrSessionExpired is returned when the remote service ends a stream
// because it reached its maximum session duration.
var ErrSessionExpired = errors.New("stt: streaming session expired")

// StreamConfig is sent once at the start of every streaming session.
type StreamConfig struct {
	Encoding       string
	SampleRate     int
	Channels       int
	Language       string
	Model          string
	InterimResults bool
}

// Alternative is one recognition hypothesis.
type Alternative struct {
	Transcript string
	Confidence float32
}

// Result holds ranked alternatives for one utterance.
type Result struct {
	Alternatives []Alternative
	IsFinal      bool
	Stability    float32
}

// Response is one message received from the service.
type Response struct {
	Results []Result
}

// Stream is a bidirectional recognition session. Send and CloseSend must be
// called from one goroutine; Recv may run concurrently on another.
type Stream interface {
	Send(chunk []byte) error
	CloseSend() error
	Recv() (Response, error)
}

// Recognizer abstracts STT backends.
type Recognizer interface {
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// StreamConfigFrom derives the per-session configuration.
func StreamConfigFrom(audio config.AudioConfig, cfg config.STTConfig) StreamConfig {
	return StreamConfig{
		Encoding:       "LINEAR16",
		SampleRate:     audio.SampleRate,
		Channels:       audio.Channels,
		Language:       cfg.Language,
		Model:          cfg.Model,
		InterimResults: cfg.InterimResults,
	}
}

// New builds the recognizer selected by cfg.Mode.
func New(ctx context.Context, cfg config.STTConfig, logger *slog.Logger) (Recognizer, error) {
	switch cfg.Mode {
	case "google":
		return NewGoogleRecognizer(ctx, cfg, logger)
	case "exec":
		return NewExecRecognizer(cfg)
	case "mock":
		return NewMockRecognizer(), nil
	default:
		return nil, fmt.Errorf("unknown stt mode %q", cfg.Mode)
	}
}
