package history

import (
	"context"
	"log/slog"
	"time"
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes history writes off the fetch path so a slow disk
// never delays output.
type WriterQueue struct {
	logger *slog.Logger
	queue  chan writeCmd
	done   chan struct{}
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = 256
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
		done:   make(chan struct{}),
	}
}

func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) {
	cmd := writeCmd{name: name, fn: fn}
	select {
	case w.queue <- cmd:
	default:
		go func() { w.queue <- cmd }()
	}
}

func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

// Wait blocks until the queue goroutine has exited. The CLI uses it to make
// sure buffered rows hit the database before the process ends.
func (w *WriterQueue) Wait() {
	<-w.done
}

// drain flushes whatever is still buffered, best effort under a short bound.
func (w *WriterQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case cmd := <-w.queue:
			if err := cmd.fn(ctx); err != nil {
				w.logger.Error("db write failed during drain", "cmd", cmd.name, "error", err)
			}
		default:
			return
		}
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	const maxAttempts = 3
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := cmd.fn(ctx); err != nil {
			w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
			if attempt == maxAttempts {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(attempt) * 300 * time.Millisecond):
			}
			continue
		}
		return
	}
}
