package tts

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

const wavHeaderSize = 44

// GoogleSynth synthesizes LINEAR16 speech with Cloud Text-to-Speech.
type GoogleSynth struct {
	client     *texttospeech.Client
	language   string
	sampleRate int
	logger     *slog.Logger
	mu         sync.Mutex
}

func NewGoogleSynth(ctx context.Context, cfg config.TTSConfig, logger *slog.Logger) (*GoogleSynth, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create text-to-speech client: %w", err)
	}
	return &GoogleSynth{
		client:     client,
		language:   cfg.Language,
		sampleRate: cfg.SampleRate,
		logger:     logger.With(slog.String("component", "tts-google")),
	}, nil
}

func (g *GoogleSynth) Close() error {
	return g.client.Close()
}

func (g *GoogleSynth) Voices(ctx context.Context) ([]Voice, error) {
	resp, err := g.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{LanguageCode: g.language})
	if err != nil {
		return nil, fmt.Errorf("list voices: %w", err)
	}
	voices := make([]Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		lang := ""
		if codes := v.GetLanguageCodes(); len(codes) > 0 {
			lang = codes[0]
		}
		voices = append(voices, Voice{ID: v.GetName(), Name: v.GetName(), Language: lang})
	}
	return voices, nil
}

func (g *GoogleSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		g.mu.Lock()
		defer g.mu.Unlock()

		resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
			Input: &texttospeechpb.SynthesisInput{
				InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
			},
			Voice: &texttospeechpb.VoiceSelectionParams{
				LanguageCode: g.languageFor(req.Voice),
				Name:         req.Voice,
			},
			AudioConfig: &texttospeechpb.AudioConfig{
				AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
				SampleRateHertz: int32(g.sampleRate),
			},
		})
		if err != nil {
			errs <- fmt.Errorf("synthesize speech: %w", err)
			return
		}
		chunks <- SynthChunk{
			SessionID:  req.SessionID,
			SampleRate: g.sampleRate,
			Channels:   1,
			PCM:        stripWAVHeader(resp.GetAudioContent()),
			Final:      true,
		}
	}()
	return chunks, errs
}

// languageFor derives the language code from voice names such as
// "en-US-Wavenet-D" when none is configured.
func (g *GoogleSynth) languageFor(voice string) string {
	if g.language != "" {
		return g.language
	}
	parts := strings.SplitN(voice, "-", 3)
	if len(parts) >= 2 {
		return parts[0] + "-" + parts[1]
	}
	return "en-US"
}

// LINEAR16 responses carry a RIFF header in front of the samples.
func stripWAVHeader(audio []byte) []byte {
	if len(audio) >= wavHeaderSize && bytes.HasPrefix(audio, []byte("RIFF")) {
		return audio[wavHeaderSize:]
	}
	return audio
}
