package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSource captures the default input device. The stream runs in
// callback mode so the device never overflows while the consumer is blocked
// on the network.
type PortAudioSource struct {
	sampleRate int
	channels   int
	frames     int
	logger     *slog.Logger

	mu     sync.Mutex
	stream *portaudio.Stream
	buf    *Buffer
}

func NewPortAudioSource(sampleRate, channels, framesPerBuffer int, logger *slog.Logger) *PortAudioSource {
	return &PortAudioSource{
		sampleRate: sampleRate,
		channels:   channels,
		frames:     framesPerBuffer,
		logger:     logger.With(slog.String("component", "capture")),
	}
}

func (s *PortAudioSource) Start(_ context.Context, buf *Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream != nil {
		return errors.New("capture already started")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(s.channels, 0, float64(s.sampleRate), s.frames, func(in []int16) {
		buf.Put(int16ToBytes(in))
	})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	s.stream = stream
	s.buf = buf
	s.logger.Debug("microphone opened", slog.Int("sample_rate", s.sampleRate), slog.Int("frames", s.frames))
	return nil
}

func (s *PortAudioSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stream == nil {
		return nil
	}

	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop input stream: %w", err))
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close input stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio terminate: %w", err))
	}
	s.buf.Close()
	s.stream = nil
	s.buf = nil
	return errors.Join(errs...)
}
