package procs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is the pause between two scans.
const DefaultPollInterval = 100 * time.Millisecond

// EnumeratorOptions configures an Enumerator.
type EnumeratorOptions struct {
	Matcher Matcher
	// IncludeNotRunning also publishes matching processes whose status is
	// not running (sleeping, idle, ...).
	IncludeNotRunning bool
	PollInterval      time.Duration
	Log               *zap.Logger
}

// Enumerator repeatedly scans all processes and publishes the PIDs whose name
// matches and whose status is running.
type Enumerator struct {
	source   Source
	snapshot *Snapshot
	matcher  Matcher
	running  bool
	poll     time.Duration
	log      *zap.Logger

	stop    atomic.Bool
	started atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}
	scans   atomic.Uint64
}

// NewEnumerator wires an enumerator that publishes into snap.
func NewEnumerator(src Source, snap *Snapshot, opts EnumeratorOptions) *Enumerator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Matcher.Mode == "" {
		opts.Matcher.Mode = MatchInsensitive
	}
	return &Enumerator{
		source:   src,
		snapshot: snap,
		matcher:  opts.Matcher,
		running:  !opts.IncludeNotRunning,
		poll:     opts.PollInterval,
		log:      opts.Log.With(zap.Stringer("matcher", opts.Matcher)),
		done:     make(chan struct{}),
	}
}

// Snapshot returns the cell this enumerator publishes into.
func (e *Enumerator) Snapshot() *Snapshot { return e.snapshot }

// Pattern returns the configured name pattern.
func (e *Enumerator) Pattern() string { return e.matcher.Pattern }

// RequireRunning reports whether only running processes are published.
func (e *Enumerator) RequireRunning() bool { return e.running }

// Scans returns how many scans have been published so far.
func (e *Enumerator) Scans() uint64 { return e.scans.Load() }

// Start publishes one synchronous scan and then keeps scanning in the
// background until Stop, Kill, or ctx cancellation.
func (e *Enumerator) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("enumerator already started")
	}

	infos, err := e.Scan(ctx)
	if err != nil {
		close(e.done)
		return fmt.Errorf("initial scan: %w", err)
	}
	if err := e.publish(infos); err != nil {
		close(e.done)
		return fmt.Errorf("publish initial scan: %w", err)
	}
	e.log.Debug("initial scan published", zap.Int("matches", len(infos)))

	ctx, e.cancel = context.WithCancel(ctx)
	go e.loop(ctx)
	return nil
}

// Stop asks the loop to exit after its current iteration.
func (e *Enumerator) Stop() {
	e.stop.Store(true)
}

// Kill aborts the loop, including a scan that is still in progress.
func (e *Enumerator) Kill() {
	e.stop.Store(true)
	if e.cancel != nil {
		e.cancel()
	}
}

// Wait blocks until the loop has exited or grace elapses. It reports whether
// the loop exited.
func (e *Enumerator) Wait(grace time.Duration) bool {
	if !e.started.Load() {
		return true
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-e.done:
		return true
	case <-t.C:
		return false
	}
}

// Done is closed once the background loop has exited.
func (e *Enumerator) Done() <-chan struct{} { return e.done }

func (e *Enumerator) loop(ctx context.Context) {
	defer close(e.done)
	defer e.cancel()

	t := time.NewTicker(e.poll)
	defer t.Stop()

	for !e.stop.Load() {
		select {
		case <-ctx.Done():
			e.log.Debug("enumerator interrupted")
			return
		case <-t.C:
		}
		if e.stop.Load() {
			return
		}

		infos, err := e.Scan(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A failed listing is retried on the next tick.
			e.log.Debug("scan failed", zap.Error(err))
			continue
		}
		if err := e.publish(infos); err != nil {
			if errors.Is(err, ErrClosed) {
				e.log.Debug("snapshot closed, enumerator exiting")
				return
			}
			e.log.Debug("publish failed", zap.Error(err))
		}
	}
}

func (e *Enumerator) publish(infos []Info) error {
	pids := make([]int32, 0, len(infos))
	for _, info := range infos {
		pids = append(pids, info.PID)
	}
	if err := e.snapshot.Publish(pids); err != nil {
		return err
	}
	e.scans.Add(1)
	return nil
}

// Scan lists every process once and returns the matching ones. Processes
// that vanish while being inspected are skipped.
func (e *Enumerator) Scan(ctx context.Context) ([]Info, error) {
	list, err := e.source.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var out []Info
	for _, p := range list {
		name, err := p.Name(ctx)
		if err != nil {
			if !errors.Is(err, ErrGone) {
				e.log.Debug("read process name", zap.Int32("pid", p.PID()), zap.Error(err))
			}
			continue
		}
		if !e.matcher.Match(name) {
			continue
		}
		status, err := p.Status(ctx)
		if err != nil {
			if !errors.Is(err, ErrGone) {
				e.log.Debug("read process status", zap.Int32("pid", p.PID()), zap.Error(err))
			}
			continue
		}
		if e.running && !IsRunning(status) {
			continue
		}
		out = append(out, Info{PID: p.PID(), Name: name, Status: status})
	}
	return out, nil
}
