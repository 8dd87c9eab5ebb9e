// Package stimer measures named wall-clock intervals.
//
// A Service owns its timers; share one by passing the pointer around rather
// than relying on package state.
package stimer

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrUnknownTimer is returned when stopping a timer that was never started.
var ErrUnknownTimer = errors.New("unknown timer")

// Service is a set of named timers. The zero value is not usable; use New.
type Service struct {
	mu     sync.Mutex
	starts map[string]time.Time
	now    func() time.Time
}

// New returns an empty timer service using the wall clock.
func New() *Service {
	return NewWithClock(time.Now)
}

// NewWithClock returns a service reading time from now.
func NewWithClock(now func() time.Time) *Service {
	return &Service{starts: make(map[string]time.Time), now: now}
}

// Start (re)starts the timer id.
func (s *Service) Start(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts[id] = s.now()
}

// Stop removes the timer id and returns the time since it was started.
func (s *Service) Stop(id string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.starts[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTimer, id)
	}
	delete(s.starts, id)
	return s.now().Sub(start), nil
}

// Toggle starts id when it is not running and stops it otherwise. running
// reports the state after the call; elapsed is set only when it stopped.
func (s *Service) Toggle(id string) (elapsed time.Duration, running bool) {
	s.mu.Lock()
	start, ok := s.starts[id]
	if !ok {
		s.starts[id] = s.now()
		s.mu.Unlock()
		return 0, true
	}
	delete(s.starts, id)
	elapsed = s.now().Sub(start)
	s.mu.Unlock()
	return elapsed, false
}

// Running reports whether id has been started and not stopped.
func (s *Service) Running(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.starts[id]
	return ok
}

// Elapsed returns the time since id was started without stopping it.
func (s *Service) Elapsed(id string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	start, ok := s.starts[id]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownTimer, id)
	}
	return s.now().Sub(start), nil
}

// Format renders an elapsed duration the way a human reads it:
// seconds with millisecond precision up to three minutes, then M:SS minutes,
// then H:MM hours past two hours.
func Format(id string, d time.Duration) string {
	name := ""
	if id != "" {
		name = " " + id
	}
	secs := d.Seconds()
	switch {
	case secs > 7200:
		hours := math.Floor(secs / 3600)
		minutes := math.Floor(secs/60) - hours*60
		return fmt.Sprintf("Elapsed%s: %.0f:%02.0f hours", name, hours, minutes)
	case secs > 180:
		minutes := math.Floor(secs / 60)
		seconds := math.Floor(math.Mod(secs, 60))
		return fmt.Sprintf("Elapsed%s: %.0f:%02.0f minutes", name, minutes, seconds)
	default:
		return fmt.Sprintf("Elapsed%s: %.3f seconds", name, secs)
	}
}
