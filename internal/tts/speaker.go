package tts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

// Speaker synthesizes text and plays it to completion. The muted check is
// evaluated on every call, so a mute toggled between two utterances takes
// effect on the second one.
type Speaker struct {
	synth   Synthesizer
	player  Player
	muted   func() bool
	timeout time.Duration
	logger  *slog.Logger
}

func NewSpeaker(synth Synthesizer, player Player, muted func() bool, timeout time.Duration, logger *slog.Logger) *Speaker {
	if muted == nil {
		muted = func() bool { return false }
	}
	return &Speaker{
		synth:   synth,
		player:  player,
		muted:   muted,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "speaker")),
	}
}

// Speak reports whether any audio was played.
func (s *Speaker) Speak(ctx context.Context, text, voice string) (bool, error) {
	if s.muted() {
		s.logger.Debug("muted, skipping speech", slog.String("text", text))
		return false, nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return false, nil
	}
	// Returning early must release the synthesizer's goroutine.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	chunks, errs := s.synth.Synthesize(ctx, SynthRequest{Text: text, Voice: voice})
	spoken := false
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if err := s.player.Play(ctx, chunk.PCM, chunk.SampleRate, chunk.Channels); err != nil {
				return spoken, fmt.Errorf("play audio: %w", err)
			}
			spoken = true
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return spoken, fmt.Errorf("synthesize: %w", err)
			}
		case <-ctx.Done():
			return spoken, ctx.Err()
		}
	}
	return spoken, nil
}

// NewEngine builds the synthesizer selected by cfg.Mode.
func NewEngine(ctx context.Context, cfg config.TTSConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Mode {
	case "exec":
		return NewExecSynth(cfg.Command, cfg.VoicesCommand, cfg.SampleRate, cfg.Channels)
	case "google":
		return NewGoogleSynth(ctx, cfg, logger)
	case "mock":
		return NewMockSynth(cfg.SampleRate, cfg.Channels), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}

// NewPlayer builds the output selected by cfg.Player.
func NewPlayer(cfg config.TTSConfig) (Player, error) {
	switch cfg.Player {
	case "beep":
		return NewBeepPlayer(), nil
	case "discard":
		return &DiscardPlayer{}, nil
	default:
		return nil, fmt.Errorf("unknown tts player %q", cfg.Player)
	}
}
