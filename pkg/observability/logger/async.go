package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures WrapAsync.
type AsyncConfig struct {
	Enabled      bool
	QueueSize    int
	WorkerCount  int
	DropWhenFull bool
}

type asyncEntry struct {
	target Logger
	write  func(Logger, string, ...any)
	msg    string
	args   []any
}

type asyncQueue struct {
	entries      chan asyncEntry
	dropWhenFull bool
	dropped      atomic.Uint64
	closed       atomic.Bool
	closeOnce    sync.Once
	workers      sync.WaitGroup
}

func (q *asyncQueue) run() {
	defer q.workers.Done()
	for entry := range q.entries {
		entry.write(entry.target, entry.msg, entry.args...)
	}
}

func (q *asyncQueue) close() {
	q.closeOnce.Do(func() {
		q.closed.Store(true)
		close(q.entries)
		q.workers.Wait()
	})
}

// AsyncLogger hands entries to worker goroutines so logging never blocks a
// consume loop on a slow writer. Children created with With share the queue.
type AsyncLogger struct {
	base  Logger
	queue *asyncQueue
}

// WrapAsync returns base unchanged when cfg.Enabled is false.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1024
	}
	workers := cfg.WorkerCount
	if workers <= 0 {
		workers = 1
	}

	q := &asyncQueue{
		entries:      make(chan asyncEntry, size),
		dropWhenFull: cfg.DropWhenFull,
	}
	q.workers.Add(workers)
	for i := 0; i < workers; i++ {
		go q.run()
	}
	return &AsyncLogger{base: base, queue: q}
}

func writeDebug(l Logger, msg string, args ...any) { l.Debug(msg, args...) }
func writeInfo(l Logger, msg string, args ...any)  { l.Info(msg, args...) }
func writeWarn(l Logger, msg string, args ...any)  { l.Warn(msg, args...) }
func writeError(l Logger, msg string, args ...any) { l.Error(msg, args...) }

func (l *AsyncLogger) Debug(msg string, args ...any) { l.enqueue(writeDebug, msg, args) }

func (l *AsyncLogger) Info(msg string, args ...any) { l.enqueue(writeInfo, msg, args) }

func (l *AsyncLogger) Warn(msg string, args ...any) { l.enqueue(writeWarn, msg, args) }

func (l *AsyncLogger) Error(msg string, args ...any) { l.enqueue(writeError, msg, args) }

func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{base: l.base.With(args...), queue: l.queue}
}

func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{base: l.base.WithContext(ctx), queue: l.queue}
}

// Dropped reports how many entries were discarded because the queue was full.
func (l *AsyncLogger) Dropped() uint64 {
	return l.queue.dropped.Load()
}

// Close drains pending entries and stops the workers. Later entries are written synchronously.
func (l *AsyncLogger) Close() {
	l.queue.close()
}

func (l *AsyncLogger) enqueue(write func(Logger, string, ...any), msg string, args []any) {
	if l.queue.closed.Load() {
		write(l.base, msg, args...)
		return
	}
	entry := asyncEntry{target: l.base, write: write, msg: msg, args: args}
	if !l.queue.dropWhenFull {
		l.queue.entries <- entry
		return
	}
	select {
	case l.queue.entries <- entry:
	default:
		l.queue.dropped.Add(1)
	}
}
