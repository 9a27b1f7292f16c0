// Package buffer implements the bounded FIFO that passive listeners fill and
// the poll tick drains. Overflow drops the oldest entries first so the most
// recent telemetry survives a slow drain.
package buffer

import (
	"log/slog"
	"sync"
)

// Bounded is a bounded FIFO of decoded records. Append and Drain are safe for
// concurrent use: the listener goroutine appends while the collector's poll
// tick drains. Drain swaps in an empty slice under the lock so the caller
// processes the snapshot without holding it.
type Bounded[T any] struct {
	mu      sync.Mutex
	items   []T
	cap     int
	dropped uint64

	logger *slog.Logger
}

// New creates a buffer bounded at capacity entries. capacity must be > 0.
func New[T any](capacity int, logger *slog.Logger) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Bounded[T]{
		cap:    capacity,
		logger: logger,
	}
}

// Append adds items, evicting the oldest entries when the bound is exceeded.
// Returns the number of entries dropped by this call.
func (b *Bounded[T]) Append(items ...T) int {
	if len(items) == 0 {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, items...)
	over := len(b.items) - b.cap
	if over <= 0 {
		return 0
	}
	// Drop oldest first. Copy down rather than re-slice so the backing array
	// does not pin evicted entries.
	kept := copy(b.items, b.items[over:])
	for i := kept; i < len(b.items); i++ {
		var zero T
		b.items[i] = zero
	}
	b.items = b.items[:kept]
	b.dropped += uint64(over)
	b.logger.Warn("buffer: overflow, dropped oldest entries",
		"dropped", over,
		"capacity", b.cap,
	)
	return over
}

// Drain atomically removes and returns the buffered entries in arrival order.
func (b *Bounded[T]) Drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = nil
	return out
}

// Len returns the current number of buffered entries.
func (b *Bounded[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

// Dropped returns the total number of entries evicted since creation.
func (b *Bounded[T]) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// noopWriter discards log output when no logger is provided.
type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
