package capture

import (
	"context"
	"sync"
)

// MockSource emits a fixed sequence of chunks on its first Start and then
// closes the buffer. Later sessions see an immediately closed buffer.
type MockSource struct {
	mu      sync.Mutex
	chunks  [][]byte
	emitted bool
	starts  int
	buf     *Buffer
}

func NewMockSource(chunks ...[]byte) *MockSource {
	return &MockSource{chunks: chunks}
}

func (m *MockSource) Start(_ context.Context, buf *Buffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.buf = buf
	if !m.emitted {
		for _, c := range m.chunks {
			buf.Put(c)
		}
		m.emitted = true
	}
	buf.Close()
	return nil
}

func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf != nil {
		m.buf.Close()
	}
	return nil
}

func (m *MockSource) Exhausted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emitted
}

// Starts reports how many sessions opened the source.
func (m *MockSource) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}
