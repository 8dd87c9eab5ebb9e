package procs

import (
	"errors"
	"slices"
	"sync"
)

// ErrClosed is returned by Publish once the snapshot has been torn down.
var ErrClosed = errors.New("snapshot closed")

// Snapshot is a single-slot cell holding the most recently published PID set.
// Publishing replaces the previous value; readers never drain anything.
type Snapshot struct {
	mu        sync.RWMutex
	pids      []int32
	published bool
	closed    bool
	version   uint64
}

// NewSnapshot returns an empty, open snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// Publish replaces the current PID set.
func (s *Snapshot) Publish(pids []int32) error {
	cp := slices.Clone(pids)
	if cp == nil {
		cp = []int32{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.pids = cp
	s.published = true
	s.version++
	return nil
}

// Latest returns a copy of the last published set. ok is false until the
// first Publish.
func (s *Snapshot) Latest() (pids []int32, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.pids), s.published
}

// Version counts successful publishes.
func (s *Snapshot) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Close tears the snapshot down. The last value stays readable.
func (s *Snapshot) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether Close has been called.
func (s *Snapshot) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
