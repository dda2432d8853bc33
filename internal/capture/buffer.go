package capture

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
)

// Buffer is an unbounded FIFO of PCM chunks filled by a device callback and
// drained by a single consumer. Close pushes the end-of-stream sentinel.
type Buffer struct {
	mu      sync.Mutex
	items   [][]byte
	closed  bool
	notify  chan struct{}
	dropped atomic.Int64
}

func NewBuffer() *Buffer {
	return &Buffer{notify: make(chan struct{}, 1)}
}

// Put enqueues a copy of chunk. It never blocks; chunks arriving after Close
// are dropped.
func (b *Buffer) Put(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	data := append([]byte(nil), chunk...)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.dropped.Add(1)
		return
	}
	b.items = append(b.items, data)
	b.mu.Unlock()
	b.wake()
}

// Close marks the end of the stream. Safe to call more than once.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.wake()
}

// Next blocks until at least one chunk is available, then returns it joined
// with every other chunk already queued. After Close it keeps returning the
// remaining data and finally io.EOF.
func (b *Buffer) Next(ctx context.Context) ([]byte, error) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			pending := b.items
			b.items = nil
			b.mu.Unlock()
			return join(pending), nil
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, io.EOF
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.notify:
		}
	}
}

// Len reports the number of queued chunks.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped reports how many chunks were discarded because they arrived after Close.
func (b *Buffer) Dropped() int64 {
	return b.dropped.Load()
}

func (b *Buffer) wake() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func join(chunks [][]byte) []byte {
	if len(chunks) == 1 {
		return chunks[0]
	}
	size := 0
	for _, c := range chunks {
		size += len(c)
	}
	out := make([]byte, 0, size)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
