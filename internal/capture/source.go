package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

// Source feeds PCM chunks into a Buffer. Start is called once per streaming
// session; Stop halts the device and closes the buffer so the consumer
// always observes end-of-stream.
type Source interface {
	Start(ctx context.Context, buf *Buffer) error
	Stop() error
}

// Finite is implemented by sources that run out of audio, such as file
// replay. Exhausted reports whether every chunk has been emitted.
type Finite interface {
	Exhausted() bool
}

// FrameSamples returns the samples per callback for a frame duration.
func FrameSamples(sampleRate, frameDurationMS int) int {
	n := sampleRate * frameDurationMS / 1000
	if n <= 0 {
		return 1
	}
	return n
}

// NewSource builds the capture source selected by cfg.Mode.
func NewSource(cfg config.AudioConfig, logger *slog.Logger) (Source, error) {
	frames := FrameSamples(cfg.SampleRate, cfg.FrameDurationMS)
	switch cfg.Mode {
	case "portaudio":
		return NewPortAudioSource(cfg.SampleRate, cfg.Channels, frames, logger), nil
	case "wav":
		return NewWAVSource(cfg.WAVPath, cfg.SampleRate, frames, true)
	case "mock":
		return NewMockSource(silence(frames), silence(frames)), nil
	default:
		return nil, fmt.Errorf("unknown audio mode %q", cfg.Mode)
	}
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func intToBytes(samples []int) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out
}

func silence(samples int) []byte {
	return make([]byte, samples*2)
}
