package migrate

import (
	"sync"

	"schemadb/pkg/dberrors"
)

type stageItem struct {
	fn   func() error
	done chan error
}

// Stage is the single concurrency domain for schema mutation: every batch,
// pulled or locally announced, runs here on one worker goroutine, so no two
// merges ever interleave. Submit never blocks the caller; the queue is
// unbounded.
type Stage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []stageItem
	running bool
	closed  bool
	stopped chan struct{}
}

func NewStage() *Stage {
	s := &Stage{stopped: make(chan struct{})}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

// Submit enqueues work and returns a channel delivering its result. The
// channel is buffered; a caller that never reads it leaks nothing.
func (s *Stage) Submit(fn func() error) <-chan error {
	done := make(chan error, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		done <- dberrors.ErrClosed
		return done
	}
	s.queue = append(s.queue, stageItem{fn: fn, done: done})
	s.cond.Signal()
	s.mu.Unlock()
	return done
}

// Idle reports whether no work is queued or running. Readiness probes use
// this to gate bootstrap completion.
func (s *Stage) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && !s.running
}

func (s *Stage) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			close(s.stopped)
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.running = true
		s.mu.Unlock()

		item.done <- item.fn()

		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}
}

// Close drains already queued work, then stops the worker.
func (s *Stage) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.stopped
		return
	}
	s.closed = true
	s.cond.Signal()
	s.mu.Unlock()
	<-s.stopped
}
