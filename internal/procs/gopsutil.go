package procs

import (
	"context"
	"errors"
	"os"

	"github.com/shirou/gopsutil/v4/process"
)

// OSSource lists and opens processes through gopsutil.
type OSSource struct{}

// NewOSSource returns the gopsutil-backed Source.
func NewOSSource() OSSource { return OSSource{} }

// Processes implements Source.
func (OSSource) Processes(ctx context.Context) ([]Process, error) {
	list, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(list))
	for _, p := range list {
		out = append(out, osProcess{p})
	}
	return out, nil
}

// Open implements Source. The returned handle is not primed.
func (OSSource) Open(ctx context.Context, pid int32) (Handle, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, translate(err)
	}
	return osProcess{p}, nil
}

type osProcess struct {
	p *process.Process
}

func (o osProcess) PID() int32 { return o.p.Pid }

func (o osProcess) Name(ctx context.Context) (string, error) {
	name, err := o.p.NameWithContext(ctx)
	return name, translate(err)
}

func (o osProcess) Status(ctx context.Context) ([]string, error) {
	status, err := o.p.StatusWithContext(ctx)
	return status, translate(err)
}

// Percent uses a zero interval so the value is measured against the previous
// call on the same *process.Process.
func (o osProcess) Percent(ctx context.Context) (float64, error) {
	pct, err := o.p.PercentWithContext(ctx, 0)
	return pct, translate(err)
}

// translate folds the various "process disappeared" errors into ErrGone.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, os.ErrNotExist):
		return errors.Join(ErrGone, err)
	default:
		return err
	}
}
