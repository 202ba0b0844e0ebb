// Package scheduler keeps at most one live timer per (session key, timer
// class). Re-arming a class supersedes the previous timer; every arming gets
// a fresh generation so a fire that raced with its own cancellation can be
// recognised and dropped by the receiver.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeonardoBeccarini/irrigation_session/internal/clock"
	"github.com/LeonardoBeccarini/irrigation_session/internal/log"
	"github.com/LeonardoBeccarini/irrigation_session/internal/metrics"
)

// Class distinguishes the timers a session may own.
type Class int

const (
	Reminder Class = iota
	CompletionEstimate
)

func (c Class) String() string {
	switch c {
	case Reminder:
		return "reminder"
	case CompletionEstimate:
		return "completion_estimate"
	}
	return "unknown"
}

// Classes lists every timer class, in cancellation order.
var Classes = []Class{Reminder, CompletionEstimate}

// Fire is delivered to the handler when a timer falls due.
type Fire struct {
	Key        string
	Class      Class
	Generation uint64
	At         time.Time
}

// Handler receives timer fires. It runs on the clock's goroutine and must
// not call back into the scheduler synchronously while holding locks the
// scheduler's caller may also take.
type Handler func(Fire)

type timerID struct {
	key   string
	class Class
}

type entry struct {
	gen    uint64
	timer  clock.Timer
	fireAt time.Time
	every  time.Duration
	fired  bool // one-shot already delivered; kept so Current still matches
}

type Scheduler struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu     sync.Mutex
	gen    uint64
	timers map[timerID]*entry
}

func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real{}
	}
	return &Scheduler{
		clock:  c,
		logger: log.WithComponent("scheduler"),
		timers: make(map[timerID]*entry),
	}
}

// Arm cancels any timer for (key, class) and schedules a one-shot fire at
// fireAt. A fireAt in the past fires on the next clock tick.
func (s *Scheduler) Arm(key string, class Class, fireAt time.Time, h Handler) uint64 {
	delay := fireAt.Sub(s.clock.Now())
	return s.arm(key, class, delay, 0, h)
}

// Every cancels any timer for (key, class) and schedules a recurring fire
// every interval, starting one interval from now.
func (s *Scheduler) Every(key string, class Class, interval time.Duration, h Handler) uint64 {
	if interval <= 0 {
		interval = time.Minute
	}
	return s.arm(key, class, interval, interval, h)
}

func (s *Scheduler) arm(key string, class Class, delay, every time.Duration, h Handler) uint64 {
	if delay < 0 {
		delay = 0
	}
	id := timerID{key: key, class: class}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.timers[id]; ok && old.timer != nil {
		old.timer.Stop()
	}
	s.gen++
	gen := s.gen
	e := &entry{gen: gen, fireAt: s.clock.Now().Add(delay), every: every}
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(id, gen, h) })
	s.timers[id] = e

	s.logger.Debug().
		Str("session_key", key).
		Str("class", class.String()).
		Uint64("generation", gen).
		Time("fire_at", e.fireAt).
		Dur("every", every).
		Msg("timer armed")
	return gen
}

func (s *Scheduler) fire(id timerID, gen uint64, h Handler) {
	s.mu.Lock()
	e, ok := s.timers[id]
	if !ok || e.gen != gen || e.fired {
		s.mu.Unlock()
		metrics.IncTimerFire(id.class.String(), "stale")
		s.logger.Debug().Str("session_key", id.key).Str("class", id.class.String()).
			Uint64("generation", gen).Msg("superseded timer fire dropped")
		return
	}
	at := s.clock.Now()
	if e.every > 0 {
		e.fireAt = at.Add(e.every)
		e.timer = s.clock.AfterFunc(e.every, func() { s.fire(id, gen, h) })
	} else {
		e.fired = true
		e.timer = nil
	}
	s.mu.Unlock()

	metrics.IncTimerFire(id.class.String(), "delivered")
	h(Fire{Key: id.key, Class: id.class, Generation: gen, At: at})
}

// Cancel stops the timer for (key, class). Cancelling a missing timer is a
// no-op; the result reports whether a pending timer was stopped.
func (s *Scheduler) Cancel(key string, class Class) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(timerID{key: key, class: class})
}

// CancelAll stops every timer class for key. It is idempotent.
func (s *Scheduler) CancelAll(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range Classes {
		if s.cancelLocked(timerID{key: key, class: c}) {
			n++
		}
	}
	return n
}

func (s *Scheduler) cancelLocked(id timerID) bool {
	e, ok := s.timers[id]
	if !ok {
		return false
	}
	delete(s.timers, id)
	if e.fired || e.timer == nil {
		return false
	}
	return e.timer.Stop()
}

// Current reports whether f belongs to the latest arming of its
// (key, class) that has not since been cancelled.
func (s *Scheduler) Current(f Fire) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[timerID{key: f.Key, class: f.Class}]
	return ok && e.gen == f.Generation
}

// Pending returns the next fire time of a live timer for (key, class).
func (s *Scheduler) Pending(key string, class Class) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[timerID{key: key, class: class}]
	if !ok || e.fired {
		return time.Time{}, false
	}
	return e.fireAt, true
}

// Len is the number of pending timers across all keys.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.timers {
		if !e.fired {
			n++
		}
	}
	return n
}

// Stop cancels every timer. Used on shutdown.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.timers {
		s.cancelLocked(id)
	}
}
