package clock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by Sleep once the scheduler has been closed.
var ErrClosed = errors.New("scheduler closed")

// Scheduler registers every delayed task of one owner so they can all be
// cancelled together. It is safe for concurrent use.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	nextID uint64
	tasks  map[uint64]Timer
	closed bool
	done   chan struct{}
}

// Handle cancels a single scheduled task.
type Handle struct {
	s  *Scheduler
	id uint64
}

// NewScheduler creates a Scheduler on c. A nil clock means the real clock.
func NewScheduler(c Clock) *Scheduler {
	if c == nil {
		c = Real()
	}
	return &Scheduler{
		clock: c,
		tasks: make(map[uint64]Timer),
		done:  make(chan struct{}),
	}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() Clock {
	return s.clock
}

// Now is shorthand for s.Clock().Now().
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule runs fn after d. After Close it does nothing and returns an
// inert handle.
func (s *Scheduler) Schedule(d time.Duration, fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Handle{}
	}
	s.nextID++
	id := s.nextID
	s.tasks[id] = s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.tasks[id]
		delete(s.tasks, id)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return Handle{s: s, id: id}
}

// Cancel stops the task. It returns false if the task already ran, was
// cancelled, or the handle is inert.
func (h Handle) Cancel() bool {
	if h.s == nil {
		return false
	}
	h.s.mu.Lock()
	t, ok := h.s.tasks[h.id]
	delete(h.s.tasks, h.id)
	h.s.mu.Unlock()
	if !ok {
		return false
	}
	t.Stop()
	return true
}

// Sleep blocks for d, until ctx is done, or until the scheduler closes.
// A non-positive d only checks ctx.
func (s *Scheduler) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}
	wake := make(chan struct{})
	h := s.Schedule(d, func() { close(wake) })
	if h.s == nil {
		return ErrClosed
	}
	select {
	case <-wake:
		return nil
	case <-ctx.Done():
		h.Cancel()
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Pending returns the number of scheduled tasks that have not run.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CancelAll stops every pending task but leaves the scheduler usable.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[uint64]Timer)
	s.mu.Unlock()
	for _, t := range tasks {
		t.Stop()
	}
	return len(tasks)
}

// Close cancels every pending task, wakes sleepers and rejects new work.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	s.CancelAll()
}
