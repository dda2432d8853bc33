package journal

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenEphemeral(t *testing.T) {
	ctx := context.Background()
	cfg := config.JournalConfig{RetentionMode: "ephemeral"}
	js, err := Open(ctx, cfg, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })
	if err := js.Ensure(); err != nil {
		t.Fatalf("ensure failed: %v", err)
	}
	if err := js.AppendTranscript(ctx, Transcript{SessionID: "s", Text: "dropped"}); err != nil {
		t.Fatalf("append on ephemeral journal: %v", err)
	}
}

func TestAppendAndQuery(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "session"}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	ctx := context.Background()
	sessionID := "session-123"
	if err := js.StartSession(ctx, sessionID, "Zira"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := js.AppendTranscript(ctx, Transcript{SessionID: sessionID, Text: "hello world", Confidence: 0.92, Final: true, Spoken: true, Voice: "Zira"}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}
	if err := js.EndSession(ctx, sessionID, "expired"); err != nil {
		t.Fatalf("end session: %v", err)
	}

	transcripts, err := js.ListSessionTranscripts(ctx, sessionID, 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 1 {
		t.Fatalf("expected 1 transcript, got %d", len(transcripts))
	}
	tr := transcripts[0]
	if tr.Text != "hello world" || !tr.Final || !tr.Spoken || tr.Voice != "Zira" {
		t.Fatalf("unexpected transcript: %+v", tr)
	}

	sessions, err := js.RecentSessions(ctx, 5)
	if err != nil {
		t.Fatalf("recent sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].EndReason != "expired" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}

func TestPruneByDaysAndSessions(t *testing.T) {
	tmp := t.TempDir()
	cfg := config.JournalConfig{Path: filepath.Join(tmp, "journal.db"), RetentionMode: "persistent", RetentionDays: 1, MaxSessions: 1}
	js, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = js.Close() })

	ctx := context.Background()
	js.clock = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }
	if err := js.StartSession(ctx, "old-session", "David"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := js.AppendTranscript(ctx, Transcript{SessionID: "old-session", Text: "note", Final: true}); err != nil {
		t.Fatalf("append transcript: %v", err)
	}

	js.clock = func() time.Time { return time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC) }
	if err := js.StartSession(ctx, "new-session", "David"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	if err := js.Prune(ctx); err != nil {
		t.Fatalf("prune: %v", err)
	}

	transcripts, err := js.ListSessionTranscripts(ctx, "old-session", 10)
	if err != nil {
		t.Fatalf("list transcripts: %v", err)
	}
	if len(transcripts) != 0 {
		t.Fatalf("expected old session pruned")
	}
	sessions, err := js.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("recent sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "new-session" {
		t.Fatalf("expected only new session to remain, got %+v", sessions)
	}
}
