// Package supervisor runs the listen, transcribe and speak loop. It owns the
// session state: commands from the keyboard and the bus are applied here, on
// one goroutine, and readers elsewhere only see published snapshots.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/loqalabs/loqa-parrot/internal/capture"
	"github.com/loqalabs/loqa-parrot/internal/config"
	"github.com/loqalabs/loqa-parrot/internal/hotkey"
	"github.com/loqalabs/loqa-parrot/internal/journal"
	"github.com/loqalabs/loqa-parrot/internal/presenter"
	"github.com/loqalabs/loqa-parrot/internal/protocol"
	"github.com/loqalabs/loqa-parrot/internal/session"
	"github.com/loqalabs/loqa-parrot/internal/stt"
)

// DefaultBudget keeps sessions under the remote service's limit.
const DefaultBudget = 55 * time.Second

// closeGrace bounds how long a recycled session may take to flush its last
// results after the send side was closed.
const closeGrace = 3 * time.Second

var errBudgetSpent = errors.New("session budget spent")

// Speaker speaks a final transcript and reports whether audio was played.
type Speaker interface {
	Speak(ctx context.Context, text, voice string) (bool, error)
}

type Journal interface {
	StartSession(ctx context.Context, sessionID, voice string) error
	EndSession(ctx context.Context, sessionID, reason string) error
	AppendTranscript(ctx context.Context, tr journal.Transcript) error
}

type Publisher interface {
	PublishTranscript(tr protocol.Transcript) error
	PublishState(st protocol.SessionState) error
}

// Indicator is shown while not listening.
type Indicator interface {
	Start()
	Stop()
}

type Options struct {
	Source       capture.Source
	Recognizer   stt.Recognizer
	StreamConfig stt.StreamConfig
	Speaker      Speaker
	Presenter    *presenter.Presenter
	Voices       session.VoiceSlots
	Store        *session.Store
	Commands     <-chan hotkey.Command
	Budget       time.Duration
	Retry        config.RetryConfig

	// Optional.
	Journal   Journal
	Publisher Publisher
	Indicator Indicator
	Metrics   *Metrics
	Tracer    trace.Tracer
	Clock     func() time.Time
	Logger    *slog.Logger
}

type Supervisor struct {
	source     capture.Source
	recognizer stt.Recognizer
	streamCfg  stt.StreamConfig
	speaker    Speaker
	presenter  *presenter.Presenter
	voices     session.VoiceSlots
	store      *session.Store
	commands   <-chan hotkey.Command
	budget     time.Duration
	retry      config.RetryConfig
	journal    Journal
	publisher  Publisher
	indicator  Indicator
	metrics    *Metrics
	tracer     trace.Tracer
	clock      func() time.Time
	logger     *slog.Logger

	state session.State
	carry []byte
}

func New(opts Options) (*Supervisor, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("supervisor: audio source required")
	case opts.Recognizer == nil:
		return nil, errors.New("supervisor: recognizer required")
	case opts.Speaker == nil:
		return nil, errors.New("supervisor: speaker required")
	case opts.Presenter == nil:
		return nil, errors.New("supervisor: presenter required")
	case opts.Store == nil:
		return nil, errors.New("supervisor: state store required")
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/loqalabs/loqa-parrot/internal/supervisor")
	}
	return &Supervisor{
		source:     opts.Source,
		recognizer: opts.Recognizer,
		streamCfg:  opts.StreamConfig,
		speaker:    opts.Speaker,
		presenter:  opts.Presenter,
		voices:     opts.Voices,
		store:      opts.Store,
		commands:   opts.Commands,
		budget:     opts.Budget,
		retry:      opts.Retry,
		journal:    opts.Journal,
		publisher:  opts.Publisher,
		indicator:  opts.Indicator,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		clock:      opts.Clock,
		logger:     opts.Logger.With(slog.String("component", "supervisor")),
	}, nil
}

// Run loops over streaming sessions until ctx is cancelled, Quit is applied
// or a finite audio source runs dry.
func (s *Supervisor) Run(ctx context.Context) error {
	s.state = s.store.Load()
	defer s.enter(session.Idle, "stopped")

	for {
		if ctx.Err() != nil || s.state.QuitRequested {
			return nil
		}
		if !s.state.Listening {
			s.pause(ctx)
			continue
		}

		reason, err := s.runSession(ctx)
		switch reason {
		case endExhausted:
			s.logger.Info("audio source exhausted")
			return nil
		case endFailed:
			s.logger.Error("streaming session failed", slogError(err))
			s.state.Listening = false
			s.presenter.Status(session.Status{Kind: hotkey.ToggleListening, Text: "Listening: false (stream failed)"})
		case endExitPhrase:
			s.state.Listening = false
			s.presenter.Status(session.Status{Kind: hotkey.ToggleListening, Text: "Listening: false"})
		}
	}
}

// pause waits for listening to be switched back on.
func (s *Supervisor) pause(ctx context.Context) {
	s.carry = nil
	s.enter(session.Paused, "")
	s.startIndicator()
	defer s.stopIndicator()

	for !s.state.Listening && !s.state.QuitRequested {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-s.commands:
			if !ok {
				s.commands = nil
				continue
			}
			s.stopIndicator()
			s.apply(cmd)
			if !s.state.Listening {
				s.startIndicator()
			}
		}
	}
}

func (s *Supervisor) startIndicator() {
	if s.indicator != nil {
		s.indicator.Start()
	}
}

func (s *Supervisor) stopIndicator() {
	if s.indicator != nil {
		s.indicator.Stop()
	}
}

type sendResult struct {
	pending []byte
	err     error
}

type recvResult struct {
	resp stt.Response
	err  error
}

func (s *Supervisor) runSession(ctx context.Context) (endReason, error) {
	id := uuid.NewString()
	s.enter(session.Connecting, "")

	sctx, span := s.tracer.Start(ctx, "parrot.session", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()
	sctx, cancel := context.WithCancel(sctx)
	defer cancel()

	stream, err := s.connect(sctx)
	if err != nil {
		if ctx.Err() != nil {
			return endCancelled, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "connect failed")
		return endFailed, fmt.Errorf("open streaming session: %w", err)
	}

	buf := capture.NewBuffer()
	if err := s.source.Start(sctx, buf); err != nil {
		_ = stream.CloseSend()
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		return endFailed, fmt.Errorf("start audio capture: %w", err)
	}

	start := s.clock()
	s.state.SessionID = id
	s.state.SessionStart = start
	s.state.ResetRequested = false
	s.enter(session.Streaming, "")
	s.presenter.Banner()
	s.metrics.sessionOpened(sctx)
	if s.journal != nil {
		if err := s.journal.StartSession(sctx, id, s.state.Voice.Name); err != nil {
			s.logger.Warn("journal start session failed", slogError(err))
		}
	}
	logger := s.logger.With(slog.String("session_id", id))
	logger.Info("session opened", slog.Int("carry_bytes", len(s.carry)))

	carry := s.carry
	s.carry = nil
	pctx, stopSending := context.WithCancelCause(sctx)
	defer stopSending(nil)
	sendDone := make(chan sendResult, 1)
	go func() {
		pending, err := s.pump(pctx, stream, buf, start, carry)
		sendDone <- sendResult{pending: pending, err: err}
		if err := stream.CloseSend(); err != nil {
			logger.Debug("close send failed", slogError(err))
		}
	}()

	responses := make(chan recvResult)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			resp, err := stream.Recv()
			select {
			case responses <- recvResult{resp: resp, err: err}:
			case <-sctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(s.budget)
	defer timer.Stop()

	reason, sent, err := s.serve(ctx, id, sendDone, responses, timer.C, func() { stopSending(errBudgetSpent) })

	s.enter(session.Closing, reason.String())
	if stopErr := s.source.Stop(); stopErr != nil {
		logger.Warn("stop audio capture failed", slogError(stopErr))
	}
	cancel()
	if sent == nil {
		r := <-sendDone
		sent = &r
	}
	wg.Wait()
	buf.Close()
	if dropped := buf.Dropped(); dropped > 0 {
		logger.Warn("audio chunks dropped after capture stopped", slog.Int64("chunks", dropped))
	}

	switch reason {
	case endExpired, endRemoteClosed:
		logger.Debug("carrying unsent audio", slog.Int("queued_chunks", buf.Len()), slog.Int("pending_bytes", len(sent.pending)))
		s.carry = append(sent.pending, drain(buf)...)
	}

	s.metrics.sessionEnded(ctx, reason)
	span.SetAttributes(attribute.String("session.end_reason", reason.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	if s.journal != nil {
		if jerr := s.journal.EndSession(context.WithoutCancel(ctx), id, reason.String()); jerr != nil {
			logger.Warn("journal end session failed", slogError(jerr))
		}
	}
	logger.Info("session closed",
		slog.String("reason", reason.String()),
		slog.Duration("duration", s.clock().Sub(start)))

	s.state.SessionID = ""
	s.state.SessionStart = time.Time{}
	return reason, err
}

// serve consumes responses and commands until the session has to end. Once
// the budget is spent the send side is closed and the session keeps reading
// for closeGrace, so results for audio already sent are still delivered.
func (s *Supervisor) serve(ctx context.Context, sessionID string, sendDone <-chan sendResult, responses <-chan recvResult, budget <-chan time.Time, stopSending func()) (endReason, *sendResult, error) {
	var sent *sendResult
	closing := false
	for {
		select {
		case <-ctx.Done():
			return endCancelled, sent, nil

		case <-budget:
			if closing {
				return endExpired, sent, nil
			}
			closing = true
			stopSending()
			budget = time.After(closeGrace)

		case cmd, ok := <-s.commands:
			if !ok {
				s.commands = nil
				continue
			}
			s.apply(cmd)
			if reason, done := s.interrupted(); done {
				return reason, sent, nil
			}

		case r := <-sendDone:
			sent = &r
			sendDone = nil
			switch {
			case errors.Is(r.err, errBudgetSpent):
				// The send side is closed; collect the final results first.
				if !closing {
					closing = true
					budget = time.After(closeGrace)
				}
			case errors.Is(r.err, io.EOF):
				// Capture ended; keep reading until the service flushes its results.
			case r.err != nil && ctx.Err() == nil:
				return endFailed, sent, fmt.Errorf("send audio: %w", r.err)
			}

		case r := <-responses:
			if r.err != nil {
				switch {
				case errors.Is(r.err, io.EOF):
					// A stream normally ends after CloseSend, which the
					// sender only calls once its result is queued.
					if sent == nil {
						select {
						case sr := <-sendDone:
							sent = &sr
						default:
						}
					}
					switch {
					case closing, sent != nil && errors.Is(sent.err, errBudgetSpent):
						return endExpired, sent, nil
					case s.exhausted(sent):
						return endExhausted, sent, nil
					}
					return endRemoteClosed, sent, nil
				case errors.Is(r.err, stt.ErrSessionExpired):
					return endExpired, sent, nil
				case ctx.Err() != nil:
					return endCancelled, sent, nil
				default:
					return endFailed, sent, fmt.Errorf("receive transcript: %w", r.err)
				}
			}
			if reason, done := s.handle(ctx, sessionID, r.resp); done {
				return reason, sent, nil
			}
		}
	}
}

// handle processes one response. Commands queued while the previous
// response was being spoken are applied first.
func (s *Supervisor) handle(ctx context.Context, sessionID string, resp stt.Response) (endReason, bool) {
	s.drainCommands()
	switch {
	case s.state.QuitRequested:
		return endQuit, true
	case s.state.ResetRequested:
		return endReset, true
	}

	out := s.presenter.Present(resp)
	if out.Skipped {
		if !s.state.Listening {
			return endStopped, true
		}
		return endNone, false
	}
	s.metrics.transcript(ctx, out.Final)

	if !out.Final {
		s.record(ctx, sessionID, out, false)
		if !s.state.Listening {
			return endStopped, true
		}
		return endNone, false
	}

	if !s.state.Listening {
		s.record(ctx, sessionID, out, false)
		return endStopped, true
	}

	spoken, err := s.speaker.Speak(ctx, out.Text, s.state.Voice.ID)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("speak failed", slogError(err))
	}
	if spoken {
		s.metrics.utteranceSpoken(ctx)
	}
	s.record(ctx, sessionID, out, spoken)

	if out.Exit {
		s.presenter.Status(session.Status{Kind: hotkey.Quit, Text: "Exiting.."})
		return endExitPhrase, true
	}
	return endNone, false
}

// pump forwards captured audio to the stream. The budget is checked before
// every send, and ctx is cancelled with errBudgetSpent when the session timer
// fires first; the chunk that found it spent is returned so the next session
// can send it first.
func (s *Supervisor) pump(ctx context.Context, stream stt.Stream, buf *capture.Buffer, start time.Time, carry []byte) ([]byte, error) {
	if len(carry) > 0 {
		if err := stream.Send(carry); err != nil {
			return carry, err
		}
	}
	for {
		chunk, err := buf.Next(ctx)
		if err != nil {
			if errors.Is(context.Cause(ctx), errBudgetSpent) {
				return nil, errBudgetSpent
			}
			return nil, err
		}
		if session.Expired(start, s.clock(), s.budget) || errors.Is(context.Cause(ctx), errBudgetSpent) {
			return chunk, errBudgetSpent
		}
		if ctx.Err() != nil {
			return chunk, ctx.Err()
		}
		if err := stream.Send(chunk); err != nil {
			return chunk, err
		}
	}
}

func (s *Supervisor) connect(ctx context.Context) (stt.Stream, error) {
	b := backoff.NewExponentialBackOff()
	if s.retry.InitialMS > 0 {
		b.InitialInterval = time.Duration(s.retry.InitialMS) * time.Millisecond
	}
	if s.retry.MaxMS > 0 {
		b.MaxInterval = time.Duration(s.retry.MaxMS) * time.Millisecond
	}
	return backoff.Retry(ctx, func() (stt.Stream, error) {
		stream, err := s.recognizer.Open(ctx, s.streamCfg)
		if err != nil {
			s.metrics.connectFailed(ctx)
			return nil, err
		}
		return stream, nil
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.retry.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.logger.Warn("open streaming session failed, retrying",
				slogError(err),
				slog.Duration("retry_in", next))
		}),
	)
}

func (s *Supervisor) apply(cmd hotkey.Command) {
	st := s.state.Apply(cmd, s.voices)
	s.presenter.Status(st)
	s.logger.Info("command applied",
		slog.String("command", cmd.String()),
		slog.String("origin", cmd.Origin),
		slog.Bool("changed", st.Changed))
	s.publish("")
}

func (s *Supervisor) drainCommands() {
	for {
		select {
		case cmd, ok := <-s.commands:
			if !ok {
				s.commands = nil
				return
			}
			s.apply(cmd)
		default:
			return
		}
	}
}

func (s *Supervisor) interrupted() (endReason, bool) {
	switch {
	case s.state.QuitRequested:
		return endQuit, true
	case s.state.ResetRequested:
		return endReset, true
	case !s.state.Listening:
		return endStopped, true
	}
	return endNone, false
}

func (s *Supervisor) exhausted(sent *sendResult) bool {
	if sent == nil || !errors.Is(sent.err, io.EOF) {
		return false
	}
	finite, ok := s.source.(capture.Finite)
	return ok && finite.Exhausted()
}

func (s *Supervisor) enter(next session.Phase, reason string) {
	if err := s.state.Enter(next); err != nil {
		s.logger.Error("phase transition rejected", slogError(err))
		return
	}
	s.publish(reason)
}

func (s *Supervisor) publish(reason string) {
	s.store.Publish(s.state)
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishState(protocol.SessionState{
		SessionID: s.state.SessionID,
		Phase:     s.state.Phase.String(),
		Listening: s.state.Listening,
		Muted:     s.state.Muted,
		Voice:     s.state.Voice.Name,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Debug("publish state failed", slogError(err))
	}
}

func (s *Supervisor) record(ctx context.Context, sessionID string, out presenter.Outcome, spoken bool) {
	if s.journal != nil && out.Final {
		err := s.journal.AppendTranscript(ctx, journal.Transcript{
			SessionID:  sessionID,
			Text:       out.Text,
			Confidence: float64(out.Confidence),
			Final:      true,
			Spoken:     spoken,
			Voice:      s.state.Voice.Name,
		})
		if err != nil {
			s.logger.Warn("journal append failed", slogError(err))
		}
	}
	if s.publisher != nil {
		err := s.publisher.PublishTranscript(protocol.Transcript{
			SessionID:  sessionID,
			Text:       out.Text,
			Partial:    !out.Final,
			Spoken:     spoken,
			Voice:      s.state.Voice.Name,
			Timestamp:  time.Now().UTC(),
			Confidence: float64(out.Confidence),
			Stability:  float64(out.Stability),
		})
		if err != nil {
			s.logger.Debug("publish transcript failed", slogError(err))
		}
	}
}

func drain(buf *capture.Buffer) []byte {
	rest, err := buf.Next(context.Background())
	if err != nil {
		return nil
	}
	return rest
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
