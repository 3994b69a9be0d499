package sched

import (
	"sync"
	"time"
)

// Key names one timer: what it does and which entity it watches.
type Key struct {
	Name   string
	Entity string
}

func (k Key) String() string {
	if k.Entity == "" {
		return k.Name
	}
	return k.Name + ":" + k.Entity
}

// Fired is posted on C() when a timer expires.
type Fired struct {
	Key Key
	Gen uint64
}

// Timer is the handle returned by a Clock.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so tests can advance it by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// RealClock is the wall clock.
var RealClock Clock = realClock{}

type entry struct {
	gen      uint64
	deadline time.Time
	timer    Timer
}

// Scheduler owns a set of keyed timers. Arm, Cancel and Accept are meant to be
// called from a single goroutine; the mutex only guards against Close racing
// with expiries.
type Scheduler struct {
	clock Clock

	mu     sync.Mutex
	timers map[Key]*entry
	gen    uint64

	out  chan Fired
	done chan struct{}
	once sync.Once
}

// New returns a Scheduler driven by clock. A nil clock means RealClock.
func New(clock Clock) *Scheduler {
	if clock == nil {
		clock = RealClock
	}
	return &Scheduler{
		clock:  clock,
		timers: make(map[Key]*entry),
		out:    make(chan Fired, 64),
		done:   make(chan struct{}),
	}
}

// C delivers expiries. Each value must be passed to Accept before acting on it.
func (s *Scheduler) C() <-chan Fired { return s.out }

// Arm starts (or restarts) the timer for key. Any pending expiry of a previous
// arming becomes stale.
func (s *Scheduler) Arm(key Key, d time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[key]; ok {
		e.timer.Stop()
	}
	s.gen++
	gen := s.gen
	deadline := s.clock.Now().Add(d)
	t := s.clock.AfterFunc(d, func() {
		select {
		case s.out <- Fired{Key: key, Gen: gen}:
		case <-s.done:
		}
	})
	s.timers[key] = &entry{gen: gen, deadline: deadline, timer: t}
	return deadline
}

// Cancel stops the timer for key. It reports whether one was armed.
func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.timers, key)
	return true
}

// Accept reports whether f is the live expiry of its key and, if so, forgets
// the timer. Stale expiries return false.
func (s *Scheduler) Accept(f Fired) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[f.Key]
	if !ok || e.gen != f.Gen {
		return false
	}
	delete(s.timers, f.Key)
	return true
}

// Deadline returns when the timer for key expires.
func (s *Scheduler) Deadline(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.timers[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Close stops every timer and unblocks expiries waiting to be delivered.
func (s *Scheduler) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		defer s.mu.Unlock()
		for k, e := range s.timers {
			e.timer.Stop()
			delete(s.timers, k)
		}
	})
}
