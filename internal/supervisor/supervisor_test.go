package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"

	"github.com/loqalabs/loqa-parrot/internal/capture"
	"github.com/loqalabs/loqa-parrot/internal/config"
	"github.com/loqalabs/loqa-parrot/internal/hotkey"
	"github.com/loqalabs/loqa-parrot/internal/journal"
	"github.com/loqalabs/loqa-parrot/internal/presenter"
	"github.com/loqalabs/loqa-parrot/internal/protocol"
	"github.com/loqalabs/loqa-parrot/internal/session"
	"github.com/loqalabs/loqa-parrot/internal/stt"
	"github.com/loqalabs/loqa-parrot/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// hookPlayer runs onPlay for every utterance before discarding it.
type hookPlayer struct {
	onPlay func(n int)
	plays  int
}

func (p *hookPlayer) Play(ctx context.Context, pcm []byte, sampleRate, channels int) error {
	p.plays++
	if p.onPlay != nil {
		p.onPlay(p.plays)
	}
	return nil
}

// hookIndicator runs onStart whenever the paused indicator is shown.
type hookIndicator struct {
	onStart func()
	starts  int
}

func (i *hookIndicator) Start() {
	i.starts++
	if i.onStart != nil {
		i.onStart()
	}
}

func (i *hookIndicator) Stop() {}

// holdSource emits one chunk and keeps the buffer open until Stop.
type holdSource struct {
	mu  sync.Mutex
	buf *capture.Buffer
}

func (h *holdSource) Start(_ context.Context, buf *capture.Buffer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = buf
	buf.Put(make([]byte, 320))
	return nil
}

func (h *holdSource) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buf != nil {
		h.buf.Close()
	}
	return nil
}

// feedSource puts a chunk every interval while started, like a live
// microphone. Every byte of a chunk holds its sequence number.
type feedSource struct {
	interval time.Duration
	size     int

	mu   sync.Mutex
	seq  byte
	buf  *capture.Buffer
	stop chan struct{}
	done chan struct{}
}

func (f *feedSource) Start(_ context.Context, buf *capture.Buffer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = buf
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	f.putLocked()
	go f.loop(f.stop, f.done)
	return nil
}

func (f *feedSource) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			f.mu.Lock()
			f.putLocked()
			f.mu.Unlock()
		}
	}
}

func (f *feedSource) putLocked() {
	f.seq++
	f.buf.Put(bytes.Repeat([]byte{f.seq}, f.size))
}

func (f *feedSource) Stop() error {
	f.mu.Lock()
	stop, done, buf := f.stop, f.done, f.buf
	f.stop = nil
	f.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	buf.Close()
	return nil
}

// requireContiguous checks that the audio sent across all streams is the
// source's sequence with nothing skipped or repeated out of order.
func requireContiguous(t *testing.T, streams []*stt.MockStream) {
	t.Helper()
	var prev byte
	for i, st := range streams {
		for _, chunk := range st.Sent() {
			for _, b := range chunk {
				if b != prev && b != prev+1 {
					t.Fatalf("stream %d: audio jumped from chunk %d to %d", i, prev, b)
				}
				prev = b
			}
		}
	}
	if prev == 0 {
		t.Fatal("no audio was sent")
	}
}

type recordingPublisher struct {
	mu           sync.Mutex
	transcripts  []protocol.Transcript
	states       []protocol.SessionState
	onTranscript func(protocol.Transcript)
}

func (r *recordingPublisher) PublishTranscript(tr protocol.Transcript) error {
	r.mu.Lock()
	r.transcripts = append(r.transcripts, tr)
	hook := r.onTranscript
	r.mu.Unlock()
	if hook != nil {
		hook(tr)
	}
	return nil
}

func (r *recordingPublisher) PublishState(st protocol.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	return nil
}

type harness struct {
	store    *session.Store
	synth    *tts.MockSynth
	player   *hookPlayer
	commands chan hotkey.Command
	out      *bytes.Buffer
	opts     Options
}

func newHarness(t *testing.T, rec stt.Recognizer, src capture.Source) *harness {
	t.Helper()
	color.NoColor = true

	store := session.NewStore(session.State{
		Listening: true,
		Voice:     tts.Voice{ID: "mock-zira", Name: "Zira"},
	})
	synth := tts.NewMockSynth(16000, 1)
	player := &hookPlayer{}
	out := &bytes.Buffer{}
	commands := make(chan hotkey.Command, 8)

	h := &harness{store: store, synth: synth, player: player, commands: commands, out: out}
	h.opts = Options{
		Source:       src,
		Recognizer:   rec,
		StreamConfig: stt.StreamConfig{Encoding: "LINEAR16", SampleRate: 16000, Language: "en-US", InterimResults: true},
		Speaker:      tts.NewSpeaker(synth, player, store.Muted, time.Second, newLogger()),
		Presenter:    presenter.New(out),
		Store:        store,
		Commands:     commands,
		Budget:       DefaultBudget,
		Retry:        config.RetryConfig{MaxAttempts: 3, InitialMS: 1, MaxMS: 2},
		Logger:       newLogger(),
	}
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	sup, err := New(h.opts)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("supervisor did not stop before the deadline")
	}
}

func (h *harness) spoken() []string {
	var texts []string
	for _, req := range h.synth.Requests() {
		texts = append(texts, req.Text)
	}
	return texts
}

func TestRunSpeaksFinalsUntilSourceExhausted(t *testing.T) {
	rec := stt.NewMockRecognizer([]stt.Response{
		stt.InterimResponse("hel"),
		stt.FinalResponse("hello world"),
	})
	h := newHarness(t, rec, capture.NewMockSource(make([]byte, 640)))

	js, err := journal.Open(context.Background(), config.JournalConfig{
		Path:          filepath.Join(t.TempDir(), "journal.db"),
		RetentionMode: "session",
	}, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })
	h.opts.Journal = js

	h.run(t)

	if got := h.spoken(); len(got) != 1 || got[0] != "hello world" {
		t.Fatalf("unexpected spoken texts %v", got)
	}
	out := h.out.String()
	if !strings.Contains(out, "Okay, Start Talking!") || !strings.Contains(out, "hel\r") || !strings.Contains(out, "hello world\n") {
		t.Fatalf("unexpected output %q", out)
	}
	if phase := h.store.Load().Phase; phase != session.Idle {
		t.Fatalf("expected idle after run, got %s", phase)
	}

	sessions, err := js.RecentSessions(context.Background(), 5)
	if err != nil || len(sessions) != 1 {
		t.Fatalf("expected one journaled session, got %+v %v", sessions, err)
	}
	if sessions[0].EndReason != "exhausted" || sessions[0].Voice != "Zira" {
		t.Fatalf("unexpected session record %+v", sessions[0])
	}
	transcripts, err := js.ListSessionTranscripts(context.Background(), sessions[0].ID, 10)
	if err != nil || len(transcripts) != 1 || !transcripts[0].Spoken {
		t.Fatalf("expected one spoken transcript, got %+v %v", transcripts, err)
	}
}

func TestExpiredSessionReopensBeforeNextSend(t *testing.T) {
	rec := stt.NewMockRecognizer()
	audio := make([]byte, 960)
	h := newHarness(t, rec, capture.NewMockSource(audio))

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	calls := 0
	h.opts.Clock = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(time.Hour)
	}

	h.run(t)

	streams := rec.Streams()
	if len(streams) != 2 {
		t.Fatalf("expected the session to be reopened once, got %d streams", len(streams))
	}
	if sent := streams[0].Sent(); len(sent) != 0 {
		t.Fatalf("expired session must not receive audio, got %d chunks", len(sent))
	}
	sent := streams[1].Sent()
	if len(sent) != 1 || len(sent[0]) != len(audio) {
		t.Fatalf("expected held-back audio on the new session, got %d chunks", len(sent))
	}
	if got := h.spoken(); len(got) != 1 || got[0] != "[final transcript length=960]" {
		t.Fatalf("unexpected spoken texts %v", got)
	}
}

func TestBudgetTimerFlushesFinalsBeforeRecycle(t *testing.T) {
	rec := stt.NewMockRecognizer()
	h := newHarness(t, rec, &feedSource{interval: 10 * time.Millisecond, size: 320})
	h.opts.StreamConfig.InterimResults = false
	h.opts.Budget = 200 * time.Millisecond
	h.player.onPlay = func(n int) {
		if n == 2 {
			h.commands <- hotkey.Command{Kind: hotkey.Quit}
		}
	}

	h.run(t)

	streams := rec.Streams()
	if len(streams) < 2 {
		t.Fatalf("expected the session to be recycled, got %d streams", len(streams))
	}
	first := streams[0]
	if !first.Closed() {
		t.Fatal("expected the recycled session to be closed for sending")
	}
	sentBytes := 0
	for _, chunk := range first.Sent() {
		sentBytes += len(chunk)
	}
	spoken := h.spoken()
	want := fmt.Sprintf("[final transcript length=%d]", sentBytes)
	if len(spoken) < 2 || spoken[0] != want {
		t.Fatalf("expected the recycled session's final %q to be spoken, got %v", want, spoken)
	}
	requireContiguous(t, streams)
}

func TestRemoteSessionLimitReopensWithCarriedAudio(t *testing.T) {
	rec := stt.NewMockRecognizer()
	rec.ExpireAfter(1)
	h := newHarness(t, rec, &feedSource{interval: 10 * time.Millisecond, size: 320})
	pub := &recordingPublisher{}
	h.opts.Publisher = pub

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			if streams := rec.Streams(); len(streams) >= 2 && len(streams[1].Sent()) >= 2 {
				h.commands <- hotkey.Command{Kind: hotkey.Quit}
				return
			}
		}
	}()

	h.run(t)

	streams := rec.Streams()
	if len(streams) < 2 {
		t.Fatalf("expected a new session after the remote limit, got %d streams", len(streams))
	}
	expiredSent := streams[0].Sent()
	if len(expiredSent) != 1 {
		t.Fatalf("expected the expired session to accept one chunk, got %d", len(expiredSent))
	}
	last := expiredSent[0][len(expiredSent[0])-1]
	if carried := streams[1].Sent()[0][0]; carried != last+1 {
		t.Fatalf("expected the rejected chunk %d to open the next session, got %d", last+1, carried)
	}
	requireContiguous(t, streams)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var reasons []string
	for _, st := range pub.states {
		if st.Phase == session.Closing.String() {
			reasons = append(reasons, st.Reason)
		}
	}
	if len(reasons) == 0 || reasons[0] != "expired" {
		t.Fatalf("expected the first session to close as expired, got %v", reasons)
	}
}

func TestMuteBetweenFinalsAffectsOnlyTheSecond(t *testing.T) {
	rec := stt.NewMockRecognizer([]stt.Response{
		stt.FinalResponse("first"),
		stt.FinalResponse("second"),
	})
	h := newHarness(t, rec, capture.NewMockSource(make([]byte, 320)))
	h.player.onPlay = func(n int) {
		if n == 1 {
			h.commands <- hotkey.Command{Kind: hotkey.Mute}
		}
	}

	h.run(t)

	if got := h.spoken(); len(got) != 1 || got[0] != "first" {
		t.Fatalf("expected only the first utterance spoken, got %v", got)
	}
	out := h.out.String()
	if !strings.Contains(out, "Muted: true") || !strings.Contains(out, "second\n") {
		t.Fatalf("unexpected output %q", out)
	}
	if !h.store.Muted() {
		t.Fatal("expected muted state to be published")
	}
}

func TestExitPhrasePausesUntilQuit(t *testing.T) {
	rec := stt.NewMockRecognizer([]stt.Response{stt.FinalResponse("please exit now")})
	h := newHarness(t, rec, &holdSource{})
	indicator := &hookIndicator{onStart: func() {
		h.commands <- hotkey.Command{Kind: hotkey.Quit}
	}}
	h.opts.Indicator = indicator

	h.run(t)

	if indicator.starts == 0 {
		t.Fatal("expected paused indicator to be shown")
	}
	state := h.store.Load()
	if state.Listening || !state.QuitRequested {
		t.Fatalf("expected paused then quit, got %+v", state)
	}
	if got := h.spoken(); len(got) != 1 || got[0] != "please exit now" {
		t.Fatalf("exit phrase should still be spoken, got %v", got)
	}
	if !strings.Contains(h.out.String(), "Exiting..") {
		t.Fatalf("expected exit notice, got %q", h.out.String())
	}
}

func TestStopListeningSkipsSpeechForPendingFinal(t *testing.T) {
	rec := stt.NewMockRecognizer([]stt.Response{
		stt.FinalResponse("one"),
		stt.FinalResponse("two"),
	})
	h := newHarness(t, rec, &holdSource{})
	h.player.onPlay = func(n int) {
		h.commands <- hotkey.Command{Kind: hotkey.ToggleListening}
	}
	h.opts.Indicator = &hookIndicator{onStart: func() {
		h.commands <- hotkey.Command{Kind: hotkey.Quit}
	}}

	h.run(t)

	if got := h.spoken(); len(got) != 1 || got[0] != "one" {
		t.Fatalf("expected only the first final spoken, got %v", got)
	}
	if h.store.Load().Listening {
		t.Fatal("expected listening to be off")
	}
}

func TestFinalAfterStopIsPrintedNotSpoken(t *testing.T) {
	h := newHarness(t, stt.NewMockRecognizer(), &holdSource{})
	sup, err := New(h.opts)
	if err != nil {
		t.Fatalf("new supervisor: %v", err)
	}
	sup.state = session.State{Listening: false, Voice: tts.Voice{ID: "mock-zira", Name: "Zira"}}

	reason, done := sup.handle(context.Background(), "s1", stt.FinalResponse("two"))
	if !done || reason != endStopped {
		t.Fatalf("expected session to stop, got %s %v", reason, done)
	}
	if h.out.String() != "two\n" {
		t.Fatalf("expected final to be printed, got %q", h.out.String())
	}
	if got := h.spoken(); len(got) != 0 {
		t.Fatalf("expected nothing spoken, got %v", got)
	}
}

func TestForceResetOpensNewSession(t *testing.T) {
	rec := stt.NewMockRecognizer(
		[]stt.Response{stt.InterimResponse("one")},
		[]stt.Response{stt.FinalResponse("two")},
	)
	h := newHarness(t, rec, &holdSource{})
	pub := &recordingPublisher{}
	pub.onTranscript = func(tr protocol.Transcript) {
		if tr.Partial {
			h.commands <- hotkey.Command{Kind: hotkey.ForceReset}
			return
		}
		h.commands <- hotkey.Command{Kind: hotkey.Quit}
	}
	h.opts.Publisher = pub

	h.run(t)

	if got := len(rec.Streams()); got != 2 {
		t.Fatalf("expected reset to open a second session, got %d", got)
	}
	if got := h.spoken(); len(got) != 1 || got[0] != "two" {
		t.Fatalf("unexpected spoken texts %v", got)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	var reasons []string
	for _, st := range pub.states {
		if st.Phase == session.Closing.String() {
			reasons = append(reasons, st.Reason)
		}
	}
	if len(reasons) != 2 || reasons[0] != "reset" || reasons[1] != "quit" {
		t.Fatalf("unexpected closing reasons %v", reasons)
	}
}

func TestConnectRetriesTransientFailures(t *testing.T) {
	rec := stt.NewMockRecognizer([]stt.Response{stt.FinalResponse("hi")})
	rec.FailOpens(errors.New("unavailable"))
	h := newHarness(t, rec, capture.NewMockSource(make([]byte, 320)))

	h.run(t)

	if got := len(rec.Streams()); got != 1 {
		t.Fatalf("expected one successful open, got %d", got)
	}
	if got := h.spoken(); len(got) != 1 || got[0] != "hi" {
		t.Fatalf("unexpected spoken texts %v", got)
	}
}

func TestConnectFailurePauses(t *testing.T) {
	rec := stt.NewMockRecognizer()
	rec.FailOpens(errors.New("unavailable"), errors.New("unavailable"))
	h := newHarness(t, rec, &holdSource{})
	h.opts.Retry = config.RetryConfig{MaxAttempts: 2, InitialMS: 1, MaxMS: 2}
	h.opts.Indicator = &hookIndicator{onStart: func() {
		h.commands <- hotkey.Command{Kind: hotkey.Quit}
	}}

	h.run(t)

	if h.store.Load().Listening {
		t.Fatal("expected listening to be switched off after retries ran out")
	}
	if got := len(rec.Streams()); got != 0 {
		t.Fatalf("expected no stream to open, got %d", got)
	}
	if !strings.Contains(h.out.String(), "stream failed") {
		t.Fatalf("expected failure notice, got %q", h.out.String())
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("expected missing collaborators to be rejected")
	}
}
