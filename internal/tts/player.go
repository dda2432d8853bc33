package tts

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// BeepPlayer plays PCM on the default output device.
type BeepPlayer struct {
	mu   sync.Mutex
	rate beep.SampleRate
}

func NewBeepPlayer() *BeepPlayer {
	return &BeepPlayer{}
}

func (p *BeepPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	if len(pcm) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	rate := beep.SampleRate(sampleRate)
	if rate != p.rate {
		if err := speaker.Init(rate, rate.N(time.Second/10)); err != nil {
			return err
		}
		p.rate = rate
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(newPCMStreamer(pcm, channels), beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

// pcmStreamer adapts 16-bit little-endian PCM to beep.Streamer.
type pcmStreamer struct {
	pcm      []byte
	channels int
	pos      int
}

func newPCMStreamer(pcm []byte, channels int) *pcmStreamer {
	if channels < 1 {
		channels = 1
	}
	return &pcmStreamer{pcm: pcm, channels: channels}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	frame := 2 * s.channels
	n := 0
	for n < len(samples) && s.pos+frame <= len(s.pcm) {
		left := sampleAt(s.pcm, s.pos)
		right := left
		if s.channels > 1 {
			right = sampleAt(s.pcm, s.pos+2)
		}
		samples[n][0] = left
		samples[n][1] = right
		s.pos += frame
		n++
	}
	return n, n > 0
}

func (s *pcmStreamer) Err() error { return nil }

func sampleAt(pcm []byte, offset int) float64 {
	return float64(int16(binary.LittleEndian.Uint16(pcm[offset:]))) / 32768
}

// DiscardPlayer drops audio. It records what it was asked to play.
type DiscardPlayer struct {
	mu     sync.Mutex
	played int
}

func (p *DiscardPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.played += len(pcm)
	p.mu.Unlock()
	return nil
}

// Played returns the number of PCM bytes received.
func (p *DiscardPlayer) Played() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}
