package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-parrot/internal/config"
	_ "modernc.org/sqlite"
)

// Session is one streaming connection as recorded in the journal.
type Session struct {
	ID        string
	Voice     string
	EndReason string
	StartedAt time.Time
	EndedAt   time.Time
}

// Transcript is a recognized utterance.
type Transcript struct {
	ID         int64
	SessionID  string
	Text       string
	Confidence float64
	Final      bool
	Spoken     bool
	Voice      string
	CreatedAt  time.Time
}

// Store wraps a SQLite-backed transcript journal.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    voice TEXT,
    end_reason TEXT,
    started_at TIMESTAMP NOT NULL,
    ended_at TIMESTAMP
);
CREATE TABLE IF NOT EXISTS transcripts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    confidence REAL,
    final INTEGER NOT NULL,
    spoken INTEGER NOT NULL,
    voice TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_transcripts_session_created ON transcripts(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

// StartSession records a newly opened streaming session.
func (s *Store) StartSession(ctx context.Context, sessionID, voice string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, voice, started_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET voice=excluded.voice`,
		sessionID, voice, s.clock().UTC())
	return err
}

// EndSession stamps the end time and the reason the session was closed.
func (s *Store) EndSession(ctx context.Context, sessionID, reason string) error {
	if s.disabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET end_reason = ?, ended_at = ? WHERE session_id = ?`,
		reason, s.clock().UTC(), sessionID)
	return err
}

// AppendTranscript writes a transcript into the journal.
func (s *Store) AppendTranscript(ctx context.Context, tr Transcript) error {
	if s.disabled() {
		return nil
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcripts(session_id, text, confidence, final, spoken, voice, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		tr.SessionID, tr.Text, tr.Confidence, tr.Final, tr.Spoken, tr.Voice, tr.CreatedAt)
	return err
}

// ListSessionTranscripts retrieves up to limit transcripts for a session ordered ascending by time.
func (s *Store) ListSessionTranscripts(ctx context.Context, sessionID string, limit int) ([]Transcript, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, confidence, final, spoken, voice, created_at
		 FROM transcripts WHERE session_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transcript
	for rows.Next() {
		var tr Transcript
		var voice sql.NullString
		var created string
		if err := rows.Scan(&tr.ID, &tr.SessionID, &tr.Text, &tr.Confidence, &tr.Final, &tr.Spoken, &voice, &created); err != nil {
			return nil, err
		}
		tr.Voice = voice.String
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			tr.CreatedAt = ts
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// RecentSessions lists the newest sessions first.
func (s *Store) RecentSessions(ctx context.Context, limit int) ([]Session, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, voice, end_reason, started_at, ended_at
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var voice, reason sql.NullString
		var started string
		var ended sql.NullString
		if err := rows.Scan(&sess.ID, &voice, &reason, &started, &ended); err != nil {
			return nil, err
		}
		sess.Voice = voice.String
		sess.EndReason = reason.String
		if ts, err := time.Parse(time.RFC3339Nano, started); err == nil {
			sess.StartedAt = ts
		}
		if ended.Valid {
			if ts, err := time.Parse(time.RFC3339Nano, ended.String); err == nil {
				sess.EndedAt = ts
			}
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE started_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE session_id IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure checks that an ephemeral journal holds no database.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral journal should not have database connection")
	}
	return nil
}
