// Package procs discovers OS processes by name and publishes the matching
// PIDs as a last-value-wins snapshot.
package procs

import (
	"context"
	"errors"
	"slices"
)

// StatusRunning is the status string a process must report to be tracked.
const StatusRunning = "running"

// ErrGone is returned by a Source when a process disappeared between being
// listed and being inspected. Callers skip it; it is never surfaced.
var ErrGone = errors.New("process gone")

// Process is one entry of an enumeration.
type Process interface {
	PID() int32
	Name(ctx context.Context) (string, error)
	Status(ctx context.Context) ([]string, error)
}

// Handle is a CPU-accounting handle bound to one process. Percent reports the
// CPU percent consumed since the previous call; the very first call has no
// baseline and reports 0.
type Handle interface {
	PID() int32
	Percent(ctx context.Context) (float64, error)
	Status(ctx context.Context) ([]string, error)
}

// Source is the OS capability used to list and open processes.
type Source interface {
	Processes(ctx context.Context) ([]Process, error)
	Open(ctx context.Context, pid int32) (Handle, error)
}

// Info is a resolved process entry.
type Info struct {
	PID    int32    `json:"pid"`
	Name   string   `json:"name"`
	Status []string `json:"status"`
}

// IsRunning reports whether status contains StatusRunning.
func IsRunning(status []string) bool {
	return slices.Contains(status, StatusRunning)
}
