package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os/exec"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingSynth struct{ err error }

func (f failingSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	errs <- f.err
	close(chunks)
	close(errs)
	return chunks, errs
}

func TestSpeakerPlaysSynthesizedAudio(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	player := &DiscardPlayer{}
	speaker := NewSpeaker(synth, player, nil, time.Second, testLogger())

	spoken, err := speaker.Speak(context.Background(), "hello world", "mock-zira")
	if err != nil {
		t.Fatalf("speak: %v", err)
	}
	if !spoken || player.Played() == 0 {
		t.Fatalf("expected audio to be played, spoken=%v played=%d", spoken, player.Played())
	}
	reqs := synth.Requests()
	if len(reqs) != 1 || reqs[0].Voice != "mock-zira" || reqs[0].Text != "hello world" {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestSpeakerEvaluatesMutePerCall(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	player := &DiscardPlayer{}
	muted := false
	speaker := NewSpeaker(synth, player, func() bool { return muted }, time.Second, testLogger())

	if spoken, _ := speaker.Speak(context.Background(), "first", ""); !spoken {
		t.Fatal("expected first utterance to be spoken")
	}
	muted = true
	if spoken, _ := speaker.Speak(context.Background(), "second", ""); spoken {
		t.Fatal("expected second utterance to be skipped while muted")
	}
	if got := len(synth.Requests()); got != 1 {
		t.Fatalf("expected muted call to skip synthesis, got %d requests", got)
	}
}

func TestSpeakerSkipsBlankText(t *testing.T) {
	synth := NewMockSynth(16000, 1)
	speaker := NewSpeaker(synth, &DiscardPlayer{}, nil, 0, testLogger())
	if spoken, err := speaker.Speak(context.Background(), "   ", ""); spoken || err != nil {
		t.Fatalf("expected no-op, got spoken=%v err=%v", spoken, err)
	}
}

func TestSpeakerSurfacesSynthError(t *testing.T) {
	boom := errors.New("engine crashed")
	speaker := NewSpeaker(failingSynth{err: boom}, &DiscardPlayer{}, nil, time.Second, testLogger())
	if _, err := speaker.Speak(context.Background(), "hi", ""); !errors.Is(err, boom) {
		t.Fatalf("expected synth error, got %v", err)
	}
}

// endlessSynth keeps producing chunks until its context ends.
type endlessSynth struct{ released chan struct{} }

func (e endlessSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk)
	errs := make(chan error)
	go func() {
		defer close(e.released)
		defer close(chunks)
		defer close(errs)
		for seq := 0; ; seq++ {
			select {
			case chunks <- SynthChunk{Sequence: seq, SampleRate: 16000, Channels: 1, PCM: make([]byte, 320)}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, errs
}

type failingPlayer struct{ err error }

func (f failingPlayer) Play(context.Context, []byte, int, int) error { return f.err }

func TestSpeakerReleasesSynthOnPlayErrorWithoutTimeout(t *testing.T) {
	boom := errors.New("device gone")
	synth := endlessSynth{released: make(chan struct{})}
	speaker := NewSpeaker(synth, failingPlayer{err: boom}, nil, 0, testLogger())

	if _, err := speaker.Speak(context.Background(), "hi", ""); !errors.Is(err, boom) {
		t.Fatalf("expected play error, got %v", err)
	}
	select {
	case <-synth.released:
	case <-time.After(time.Second):
		t.Fatal("synthesizer goroutine still blocked after Speak returned")
	}
}

func TestExecSynthDecodesChunks(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	engine, err := NewExecSynth(`sh -c 'cat >/dev/null; printf "{\"pcm_base64\":\"AAABAA==\",\"final\":true}\n"'`, "", 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	chunks, errs := engine.Synthesize(context.Background(), SynthRequest{Text: "hi"})
	var got []SynthChunk
	for chunk := range chunks {
		got = append(got, chunk)
	}
	if err := <-errs; err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if len(got) != 1 || len(got[0].PCM) != 4 || !got[0].Final || got[0].SampleRate != 22050 {
		t.Fatalf("unexpected chunks %+v", got)
	}
}

func TestExecSynthVoicesRequiresCommand(t *testing.T) {
	engine, err := NewExecSynth("espeak-ng-json", "", 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	if _, err := engine.Voices(context.Background()); err == nil {
		t.Fatal("expected error without voices_command")
	}
}

func TestParseVoiceList(t *testing.T) {
	voices := parseVoiceList("en-us\tEnglish (America)\n\nfr\n de \t \n")
	if len(voices) != 3 {
		t.Fatalf("expected 3 voices, got %+v", voices)
	}
	if voices[0].ID != "en-us" || voices[0].Name != "English (America)" {
		t.Fatalf("unexpected first voice %+v", voices[0])
	}
	if voices[1].ID != "fr" || voices[1].Name != "fr" {
		t.Fatalf("unexpected second voice %+v", voices[1])
	}
	if voices[2].ID != "de" || voices[2].Name != "de" {
		t.Fatalf("unexpected third voice %+v", voices[2])
	}
}

func TestStripWAVHeader(t *testing.T) {
	raw := append([]byte("RIFF"), make([]byte, wavHeaderSize-4)...)
	raw = append(raw, 1, 2, 3, 4)
	if got := stripWAVHeader(raw); len(got) != 4 || got[0] != 1 {
		t.Fatalf("unexpected stripped audio %v", got)
	}
	plain := []byte{9, 9}
	if got := stripWAVHeader(plain); len(got) != 2 {
		t.Fatalf("expected headerless audio untouched, got %v", got)
	}
}

func TestPCMStreamerConvertsSamples(t *testing.T) {
	// two mono samples: 0 and -32768
	s := newPCMStreamer([]byte{0x00, 0x00, 0x00, 0x80}, 1)
	buf := make([][2]float64, 4)
	n, ok := s.Stream(buf)
	if n != 2 || !ok {
		t.Fatalf("expected 2 samples, got n=%d ok=%v", n, ok)
	}
	if buf[1][0] != -1 || buf[1][1] != -1 {
		t.Fatalf("unexpected sample %v", buf[1])
	}
	if n, ok := s.Stream(buf); n != 0 || ok {
		t.Fatalf("expected drained streamer, got n=%d ok=%v", n, ok)
	}
}
