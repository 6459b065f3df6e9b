// Package perkey provides a scheduler that serializes work per key while work
// for different keys runs concurrently.
//
// The event log uses it to serialize version assignment per stream: appends
// targeting the same streamId execute one at a time, in submission order,
// while appends for other streams proceed in parallel. No global lock.
package perkey

import (
	"context"
	"errors"
	"sync"
)

// ErrSchedulerClosed is returned by Do after Close.
var ErrSchedulerClosed = errors.New("perkey: scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the pending-task buffer per key (default 64).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler runs tasks such that, for any given key, tasks execute
// sequentially in submission order. Tasks for different keys run in parallel.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	inflight   sync.WaitGroup
	bufferSize int
}

type worker struct {
	tasks chan *task
}

type task struct {
	fn   func() error
	done chan error
}

// New creates a Scheduler.
func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 64}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do schedules fn for key and blocks until fn finishes, returning its error.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but respects cancellation while enqueueing or waiting.
// A task that was already enqueued still executes even if the caller gives up
// waiting for it.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.inflight.Add(1)
	w := s.workerLocked(key)
	s.mu.Unlock()

	t := &task{fn: fn, done: make(chan error, 1)}

	select {
	case w.tasks <- t:
	case <-ctx.Done():
		s.inflight.Done()
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		s.inflight.Done()
		return err
	case <-ctx.Done():
		s.inflight.Done()
		return ctx.Err()
	}
}

// Close stops accepting tasks and shuts down the workers. Tasks already
// queued still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	// wait for in-flight Do calls to finish enqueueing before closing channels
	s.inflight.Wait()

	s.mu.Lock()
	for _, w := range s.workers {
		close(w.tasks)
	}
	s.workers = nil
	s.mu.Unlock()
}

func (s *Scheduler[K]) workerLocked(key K) *worker {
	w, ok := s.workers[key]
	if ok {
		return w
	}
	w = &worker{tasks: make(chan *task, s.bufferSize)}
	s.workers[key] = w
	go func() {
		for t := range w.tasks {
			t.done <- t.fn()
		}
	}()
	return w
}
