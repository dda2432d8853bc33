package capture

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource replays a 16-bit mono WAV file as if it were a microphone. The
// read position survives session recycles, so a long file is spread over as
// many sessions as it needs.
type WAVSource struct {
	pcm        []byte
	frameBytes int
	frameDur   time.Duration
	paced      bool

	mu      sync.Mutex
	offset  int
	cancel  context.CancelFunc
	done    chan struct{}
	buf     *Buffer
	started bool
}

// NewWAVSource loads path into memory. When paced is set, frames are emitted
// at real-time rate.
func NewWAVSource(path string, sampleRate, framesPerBuffer int, paced bool) (*WAVSource, error) {
	pcm, err := LoadWAV(path, sampleRate)
	if err != nil {
		return nil, err
	}
	return &WAVSource{
		pcm:        pcm,
		frameBytes: framesPerBuffer * 2,
		frameDur:   time.Duration(framesPerBuffer) * time.Second / time.Duration(sampleRate),
		paced:      paced,
	}, nil
}

// LoadWAV decodes a WAV file into little-endian 16-bit PCM.
func LoadWAV(path string, sampleRate int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s is not a valid wav file", path)
	}
	if dec.BitDepth != 16 {
		return nil, fmt.Errorf("wav bit depth %d unsupported, need 16", dec.BitDepth)
	}
	if dec.NumChans != 1 {
		return nil, fmt.Errorf("wav has %d channels, need mono", dec.NumChans)
	}
	if int(dec.SampleRate) != sampleRate {
		return nil, fmt.Errorf("wav sample rate %d does not match %d", dec.SampleRate, sampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	return intToBytes(buf.Data), nil
}

func (s *WAVSource) Start(ctx context.Context, buf *Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("wav source already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.buf = buf
	s.started = true

	go s.run(runCtx, buf, s.done)
	return nil
}

func (s *WAVSource) run(ctx context.Context, buf *Buffer, done chan struct{}) {
	defer close(done)

	var ticker *time.Ticker
	if s.paced {
		ticker = time.NewTicker(s.frameDur)
		defer ticker.Stop()
	}
	for {
		s.mu.Lock()
		if s.offset >= len(s.pcm) {
			s.mu.Unlock()
			buf.Close()
			return
		}
		end := s.offset + s.frameBytes
		if end > len(s.pcm) {
			end = len(s.pcm)
		}
		frame := s.pcm[s.offset:end]
		s.offset = end
		s.mu.Unlock()

		buf.Put(frame)

		if ticker == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *WAVSource) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel, done, buf := s.cancel, s.done, s.buf
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
	buf.Close()
	return nil
}

func (s *WAVSource) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset >= len(s.pcm)
}

// WriteWAV encodes PCM into a WAV file; used for fixtures and the exec recognizer.
func WriteWAV(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer f.Close()

	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
