package storage

import (
	"context"
	"errors"
	"time"

	"devutils/internal/cpuusage"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Run describes one persisted recording without its samples.
type Run struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`      // monitored process pattern
	CPUCount  int           `json:"cpu_count"` // cores used for normalisation
	Interval  time.Duration `json:"interval"`
	StartedAt time.Time     `json:"started_at"` // time of the first sample
	Samples   int           `json:"samples"`
}

// Store abstracts a persistence back-end for recorded series.
type Store interface {
	// SaveRun stores the series and all its samples in a single transaction
	// and returns the new run id. Empty series are rejected.
	SaveRun(ctx context.Context, s cpuusage.Series) (int64, error)

	// Runs lists stored runs ordered by id.
	Runs(ctx context.Context) ([]Run, error)

	// Series loads a run with its samples in recording order.
	Series(ctx context.Context, id int64) (cpuusage.Series, error)

	// DeleteRun removes a run and its samples.
	DeleteRun(ctx context.Context, id int64) error

	// Close releases any resources (e.g. DB connections).
	Close() error
}
