package tts

import (
	"context"
	"sync"
	"time"
)

// MockSynth returns one short silent chunk per request and records the
// requests it served.
type MockSynth struct {
	sampleRate int
	channels   int
	voices     []Voice

	mu       sync.Mutex
	requests []SynthRequest
}

func NewMockSynth(sampleRate, channels int, voices ...Voice) *MockSynth {
	if len(voices) == 0 {
		voices = []Voice{
			{ID: "mock-david", Name: "David", Language: "en-US"},
			{ID: "mock-zira", Name: "Zira", Language: "en-US"},
		}
	}
	return &MockSynth{sampleRate: sampleRate, channels: channels, voices: voices}
}

func (m *MockSynth) Voices(context.Context) ([]Voice, error) {
	return append([]Voice(nil), m.voices...), nil
}

func (m *MockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(5 * time.Millisecond):
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			Sequence:   0,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        make([]byte, m.sampleRate/50*2),
			Final:      true,
		}
	}()
	return chunks, errs
}

// Requests returns the requests synthesized so far.
func (m *MockSynth) Requests() []SynthRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SynthRequest(nil), m.requests...)
}
