package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-parrot/internal/capture"
	"github.com/loqalabs/loqa-parrot/internal/config"
)

// ExecRecognizer shells out to a local transcription command. The command
// receives `--audio <file.wav>` (plus --model/--language/--partial) and
// prints {"text": "...", "confidence": 0.9} on stdout.
type ExecRecognizer struct {
	cmd []string
	cfg config.STTConfig
	mu  sync.Mutex
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig) (*ExecRecognizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &ExecRecognizer{cmd: args, cfg: cfg}, nil
}

func (r *ExecRecognizer) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	return &execStream{
		rec:      r,
		ctx:      ctx,
		cfg:      cfg,
		interval: time.Duration(r.cfg.PartialEveryMS) * time.Millisecond,
		results:  make(chan execOutcome, 16),
	}, nil
}

type execOutcome struct {
	resp Response
	err  error
}

// execStream accumulates the session's audio, transcribes it periodically
// for interim results and once more on CloseSend for the final result.
type execStream struct {
	rec      *ExecRecognizer
	ctx      context.Context
	cfg      StreamConfig
	interval time.Duration

	mu          sync.Mutex
	pcm         []byte
	lastPartial time.Time
	inflight    bool
	closed      bool
	wg          sync.WaitGroup
	results     chan execOutcome
}

func (s *execStream) Send(chunk []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("stt: send on closed stream")
	}
	s.pcm = append(s.pcm, chunk...)
	schedule := s.shouldSchedulePartial()
	var snapshot []byte
	if schedule {
		snapshot = append([]byte(nil), s.pcm...)
		s.inflight = true
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if schedule {
		go func() {
			defer s.wg.Done()
			alt, err := s.rec.transcribe(s.ctx, snapshot, s.cfg, false)

			s.mu.Lock()
			s.inflight = false
			s.lastPartial = time.Now()
			s.mu.Unlock()

			if err != nil {
				s.emit(execOutcome{err: err})
				return
			}
			if alt.Transcript != "" {
				s.emit(execOutcome{resp: Response{Results: []Result{{Alternatives: []Alternative{alt}}}}})
			}
		}()
	}
	return nil
}

func (s *execStream) shouldSchedulePartial() bool {
	if !s.cfg.InterimResults || s.inflight || s.interval <= 0 {
		return false
	}
	if s.lastPartial.IsZero() {
		s.lastPartial = time.Now()
		return false
	}
	return time.Since(s.lastPartial) >= s.interval
}

func (s *execStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	pcm := s.pcm
	s.mu.Unlock()

	if len(pcm) > 0 {
		alt, err := s.rec.transcribe(s.ctx, pcm, s.cfg, true)
		if err != nil {
			s.emit(execOutcome{err: err})
		} else if alt.Transcript != "" {
			s.emit(execOutcome{resp: Response{Results: []Result{{Alternatives: []Alternative{alt}, IsFinal: true}}}})
		}
	}
	close(s.results)
	return nil
}

func (s *execStream) emit(o execOutcome) {
	select {
	case s.results <- o:
	case <-s.ctx.Done():
	}
}

func (s *execStream) Recv() (Response, error) {
	select {
	case o, ok := <-s.results:
		if !ok {
			return Response{}, io.EOF
		}
		return o.resp, o.err
	case <-s.ctx.Done():
		return Response{}, s.ctx.Err()
	}
}

func (r *ExecRecognizer) transcribe(ctx context.Context, pcm []byte, cfg StreamConfig, final bool) (Alternative, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(pcm)%2 != 0 {
		return Alternative{}, fmt.Errorf("pcm payload not aligned")
	}
	file, err := os.CreateTemp("", "parrot_stt_*.wav")
	if err != nil {
		return Alternative{}, fmt.Errorf("temp file: %w", err)
	}
	path := file.Name()
	file.Close()
	defer os.Remove(path)

	if err := capture.WriteWAV(path, pcm, cfg.SampleRate); err != nil {
		return Alternative{}, err
	}

	base := r.cmd[0]
	cmdArgs := append([]string{}, r.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", path)
	if r.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", r.cfg.ModelPath)
	}
	if cfg.Language != "" {
		cmdArgs = append(cmdArgs, "--language", cfg.Language)
	}
	if !final {
		cmdArgs = append(cmdArgs, "--partial")
	}

	command := exec.CommandContext(ctx, base, cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return Alternative{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Alternative{}, fmt.Errorf("decode stt response: %w", err)
	}
	return Alternative{Transcript: resp.Text, Confidence: float32(resp.Confidence)}, nil
}
