// Package schedule defers work until a future instant with per-entry
// cancellation. Entries live in process memory only: a restart before
// the scheduled instant loses the entry. That tradeoff is deliberate
// and recorded in DESIGN.md.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// Job is the deferred unit of work. The context is the scheduler's
// base context; it is done once the scheduler stops.
type Job func(ctx context.Context)

type entry struct {
	timer *time.Timer
	at    time.Time
}

// Scheduler fires each scheduled job exactly once at or after its
// instant, unless cancelled first. Fire and cancel racing on the same
// entry resolve so that at most one of them has effect.
type Scheduler struct {
	ctx context.Context

	mu      sync.Mutex
	entries map[string]*entry
}

func New(ctx context.Context) *Scheduler {
	return &Scheduler{
		ctx:     ctx,
		entries: make(map[string]*entry),
	}
}

// Schedule registers job to run at or after `at` and returns a
// tracking id immediately. An instant in the past fires as soon as
// the timer goroutine runs.
func (s *Scheduler) Schedule(at time.Time, job Job) string {
	id, err := gonanoid.Generate(idAlphabet, 16)
	if err != nil {
		// nanoid only fails when the entropy source does; fall back to
		// a time-derived id rather than dropping the job.
		id = time.Now().Format("20060102150405.000000000")
	}

	s.mu.Lock()
	e := &entry{at: at}
	e.timer = time.AfterFunc(time.Until(at), func() {
		s.fire(id, job)
	})
	s.entries[id] = e
	s.mu.Unlock()

	slog.Debug("job scheduled",
		slog.String("code", "SCHED_ADD"),
		slog.String("tracking_id", id),
		slog.Time("at", at),
	)
	return id
}

// fire claims the entry; the claim is what makes fire and cancel
// mutually exclusive. Whichever removes the entry first wins and the
// loser is a no-op.
func (s *Scheduler) fire(id string, job Job) {
	s.mu.Lock()
	_, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return // cancelled while the timer was in flight
	}
	if s.ctx.Err() != nil {
		return // scheduler stopped
	}
	job(s.ctx)
}

// Cancel prevents a scheduled job from firing. It returns false when
// the id is unknown or the job already fired.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	slog.Debug("scheduled job cancelled",
		slog.String("code", "SCHED_CANCEL"),
		slog.String("tracking_id", id),
	)
	return true
}

// Context returns the scheduler's base context. Jobs receive it when
// they fire; it is done once the scheduler's owner shuts down.
func (s *Scheduler) Context() context.Context {
	return s.ctx
}

// Pending returns the number of not-yet-fired entries.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Stop cancels every pending entry.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, id)
	}
	s.mu.Unlock()
}
