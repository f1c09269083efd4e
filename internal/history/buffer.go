package history

import (
	"context"
	"sync"
)

// Buffer queues points awaiting a remote push. It is bounded; once full
// the oldest points are dropped so the freshest data always survives a
// long network outage.
type Buffer struct {
	mu    sync.Mutex
	max   int
	queue []Point
}

func NewBuffer(max int) *Buffer {
	return &Buffer{max: max}
}

// WritePoint implements Recorder. It never fails.
func (b *Buffer) WritePoint(_ context.Context, p Point) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, p)
	if len(b.queue) > b.max {
		b.queue = b.queue[len(b.queue)-b.max:]
	}
	return nil
}

// Drain removes and returns up to n of the oldest points.
func (b *Buffer) Drain(n int) []Point {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.queue) {
		n = len(b.queue)
	}
	if n == 0 {
		return nil
	}
	out := make([]Point, n)
	copy(out, b.queue[:n])
	b.queue = append(b.queue[:0], b.queue[n:]...)
	return out
}

// Requeue puts points back at the front of the queue after a failed
// push, still subject to the bound.
func (b *Buffer) Requeue(points []Point) {
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]Point, 0, len(points)+len(b.queue))
	merged = append(merged, points...)
	merged = append(merged, b.queue...)
	if len(merged) > b.max {
		merged = merged[len(merged)-b.max:]
	}
	b.queue = merged
}

// Len reports the number of queued points.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
