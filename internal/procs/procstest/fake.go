// Package procstest provides an in-memory procs.Source for tests.
package procstest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"devutils/internal/procs"
)

// Source is a fake process table. All methods are safe for concurrent use.
type Source struct {
	mu     sync.Mutex
	procs  map[int32]*entry
	ghosts map[int32]struct{}
	opens  int

	block   bool
	blocked int
	// ListErr, when set, is returned by Processes.
	ListErr error
}

type entry struct {
	name   string
	status []string
	cpu    float64
	// vanish removes the process right after its name was read.
	vanish bool
}

// New returns an empty fake process table.
func New() *Source {
	return &Source{procs: make(map[int32]*entry), ghosts: make(map[int32]struct{})}
}

// Add inserts or replaces a process. cpu is what every non-first Percent call
// on a handle reports.
func (s *Source) Add(pid int32, name string, cpu float64, status ...string) {
	if len(status) == 0 {
		status = []string{procs.StatusRunning}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procs[pid] = &entry{name: name, status: status, cpu: cpu}
}

// Remove makes a process disappear.
func (s *Source) Remove(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, pid)
}

// AddGhost lists pid in Processes while every lookup on it fails with
// procs.ErrGone, like a process that exits right after the listing.
func (s *Source) AddGhost(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ghosts[pid] = struct{}{}
}

// VanishAfterName makes pid disappear as soon as its name has been read.
func (s *Source) VanishAfterName(pid int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.procs[pid]; ok {
		e.vanish = true
	}
}

// BlockListing makes every later Processes call hang until its context is
// done.
func (s *Source) BlockListing() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = true
}

// Blocked counts Processes calls currently or previously stuck in
// BlockListing.
func (s *Source) Blocked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocked
}

// SetStatus changes a process status.
func (s *Source) SetStatus(pid int32, status ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.procs[pid]; ok {
		e.status = status
	}
}

// Opens counts successful Open calls.
func (s *Source) Opens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opens
}

// Processes implements procs.Source.
func (s *Source) Processes(ctx context.Context) ([]procs.Process, error) {
	s.mu.Lock()
	if s.block {
		s.blocked++
		s.mu.Unlock()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	pids := make([]int32, 0, len(s.procs)+len(s.ghosts))
	for pid := range s.procs {
		pids = append(pids, pid)
	}
	for pid := range s.ghosts {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })

	out := make([]procs.Process, 0, len(pids))
	for _, pid := range pids {
		out = append(out, &handle{src: s, pid: pid})
	}
	return out, nil
}

// Open implements procs.Source.
func (s *Source) Open(ctx context.Context, pid int32) (procs.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.procs[pid]; !ok {
		return nil, fmt.Errorf("open %d: %w", pid, procs.ErrGone)
	}
	s.opens++
	return &handle{src: s, pid: pid}, nil
}

type handle struct {
	src    *Source
	pid    int32
	primed bool
}

func (h *handle) PID() int32 { return h.pid }

func (h *handle) lookup() (*entry, error) {
	e, ok := h.src.procs[h.pid]
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", h.pid, procs.ErrGone)
	}
	return e, nil
}

func (h *handle) Name(ctx context.Context) (string, error) {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	e, err := h.lookup()
	if err != nil {
		return "", err
	}
	if e.vanish {
		delete(h.src.procs, h.pid)
	}
	return e.name, nil
}

func (h *handle) Status(ctx context.Context) ([]string, error) {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	e, err := h.lookup()
	if err != nil {
		return nil, err
	}
	return append([]string(nil), e.status...), nil
}

// Percent reports 0 on the first call, like a real accounting handle.
func (h *handle) Percent(ctx context.Context) (float64, error) {
	h.src.mu.Lock()
	defer h.src.mu.Unlock()
	e, err := h.lookup()
	if err != nil {
		return 0, err
	}
	if !h.primed {
		h.primed = true
		return 0, nil
	}
	return e.cpu, nil
}
