package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MockRecognizer replays scripted responses. Each Open consumes the next
// script; once scripts run out, streams echo a synthetic transcript of the
// audio they received.
type MockRecognizer struct {
	mu      sync.Mutex
	scripts [][]Response
	streams []*MockStream
	openErr []error
	limits  []int
}

func NewMockRecognizer(scripts ...[]Response) *MockRecognizer {
	return &MockRecognizer{scripts: scripts}
}

// FailOpens makes the next len(errs) Open calls fail with the given errors.
func (m *MockRecognizer) FailOpens(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = append(m.openErr, errs...)
}

// ExpireAfter makes the next len(sends) streams hit the session limit: once a
// stream has accepted sends[i] chunks, further sends fail with io.EOF and
// Recv reports ErrSessionExpired after the queued responses.
func (m *MockRecognizer) ExpireAfter(sends ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = append(m.limits, sends...)
}

func (m *MockRecognizer) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.openErr) > 0 {
		err := m.openErr[0]
		m.openErr = m.openErr[1:]
		return nil, err
	}

	s := &MockStream{ctx: ctx, cfg: cfg, notify: make(chan struct{}, 1)}
	if len(m.scripts) > 0 {
		s.queue = append(s.queue, m.scripts[0]...)
		s.scripted = true
		m.scripts = m.scripts[1:]
	}
	if len(m.limits) > 0 {
		s.limit = m.limits[0]
		m.limits = m.limits[1:]
	}
	m.streams = append(m.streams, s)
	return s, nil
}

// Streams returns every stream opened so far.
func (m *MockRecognizer) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*MockStream(nil), m.streams...)
}

// MockStream records sent audio and serves queued responses.
type MockStream struct {
	ctx      context.Context
	cfg      StreamConfig
	mu       sync.Mutex
	sent     [][]byte
	queue    []Response
	scripted bool
	closed   bool
	limit    int
	expired  bool
	notify   chan struct{}
}

func (s *MockStream) Send(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stt: send on closed stream")
	}
	if s.expired || (s.limit > 0 && len(s.sent) >= s.limit) {
		s.expired = true
		s.wake()
		return io.EOF
	}
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	if !s.scripted && s.cfg.InterimResults {
		s.queue = append(s.queue, textResponse(fmt.Sprintf("[partial transcript length=%d]", s.sentBytes()), false))
		s.wake()
	}
	return nil
}

func (s *MockStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.scripted && len(s.sent) > 0 {
		s.queue = append(s.queue, textResponse(fmt.Sprintf("[final transcript length=%d]", s.sentBytes()), true))
	}
	s.wake()
	return nil
}

func (s *MockStream) Recv() (Response, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			resp := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return resp, nil
		}
		closed, expired := s.closed, s.expired
		s.mu.Unlock()
		if expired {
			return Response{}, ErrSessionExpired
		}
		if closed {
			return Response{}, io.EOF
		}
		select {
		case <-s.ctx.Done():
			return Response{}, s.ctx.Err()
		case <-s.notify:
		}
	}
}

// Sent returns the audio chunks received by the stream.
func (s *MockStream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// Closed reports whether CloseSend was called.
func (s *MockStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *MockStream) sentBytes() int {
	n := 0
	for _, c := range s.sent {
		n += len(c)
	}
	return n
}

func (s *MockStream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// FinalResponse builds a single-alternative final response.
func FinalResponse(text string) Response {
	return textResponse(text, true)
}

// InterimResponse builds a single-alternative interim response.
func InterimResponse(text string) Response {
	return textResponse(text, false)
}

func textResponse(text string, final bool) Response {
	return Response{Results: []Result{{
		Alternatives: []Alternative{{Transcript: text, Confidence: 0.9}},
		IsFinal:      final,
	}}}
}
