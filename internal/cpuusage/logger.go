// Package cpuusage records the CPU usage of a named set of processes as a
// time series split into caller-labelled segments.
package cpuusage

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.uber.org/zap"

	"devutils/internal/procs"
)

const (
	// DefaultInterval is the pause between two samples.
	DefaultInterval = 500 * time.Millisecond
	// DefaultSegment labels samples taken before any rename.
	DefaultSegment = "init"
	// DefaultStopGrace bounds how long Stop waits for the enumerator.
	DefaultStopGrace = time.Second
)

var (
	// ErrNotStarted is returned by Stop on a logger that never started.
	ErrNotStarted = errors.New("cpu usage logger not started")
	// ErrStopped is returned by calls on a logger that has been stopped.
	ErrStopped = errors.New("cpu usage logger stopped")
)

// State is the lifecycle position of a Logger.
type State int

const (
	Idle State = iota
	Running
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Logger.
type Options struct {
	// Interval between samples; DefaultInterval when zero.
	Interval time.Duration
	// CPUCount overrides the logical core count used for normalisation.
	CPUCount int
	// StopGrace bounds the wait for the enumerator on Stop.
	StopGrace time.Duration
	Log       *zap.Logger
	// Clock replaces time.Now in tests.
	Clock func() time.Time
}

// Logger samples the CPU usage of the processes published by an Enumerator.
type Logger struct {
	enum     *procs.Enumerator
	snapshot *procs.Snapshot
	source   procs.Source
	interval time.Duration
	cpus     int
	grace    time.Duration
	log      *zap.Logger
	now      func() time.Time

	mu      sync.Mutex
	state   State
	label   string
	samples []Sample

	// records is owned by the sampling goroutine.
	records map[int32]procs.Handle
	ctx     context.Context
	cancel  context.CancelFunc
	quit    chan struct{}
	done    chan struct{}
}

// New builds a Logger reading the snapshot published by enum. The enumerator
// is stopped together with the logger.
func New(enum *procs.Enumerator, src procs.Source, opts Options) *Logger {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.CPUCount <= 0 {
		opts.CPUCount = logicalCores(opts.Log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Logger{
		enum:     enum,
		snapshot: enum.Snapshot(),
		source:   src,
		interval: opts.Interval,
		cpus:     opts.CPUCount,
		grace:    opts.StopGrace,
		log:      opts.Log.With(zap.String("name", enum.Pattern())),
		now:      opts.Clock,
		label:    DefaultSegment,
		records:  make(map[int32]procs.Handle),
		ctx:      ctx,
		cancel:   cancel,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Open starts an enumerator for the matcher in enumOpts and returns a Logger
// bound to it. The enumerator has published its first scan when Open returns.
func Open(ctx context.Context, src procs.Source, enumOpts procs.EnumeratorOptions, opts Options) (*Logger, error) {
	if enumOpts.Log == nil {
		enumOpts.Log = opts.Log
	}
	enum := procs.NewEnumerator(src, procs.NewSnapshot(), enumOpts)
	if err := enum.Start(ctx); err != nil {
		return nil, fmt.Errorf("start enumerator: %w", err)
	}
	return New(enum, src, opts), nil
}

func logicalCores(log *zap.Logger) int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		log.Debug("cpu count unavailable, using runtime.NumCPU", zap.Error(err))
		return runtime.NumCPU()
	}
	return n
}

// Name is the monitored process pattern.
func (l *Logger) Name() string { return l.enum.Pattern() }

// CPUCount is the core count used for normalisation.
func (l *Logger) CPUCount() int { return l.cpus }

// State returns the lifecycle state.
func (l *Logger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Segment returns the label applied to new samples.
func (l *Logger) Segment() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.label
}

// Start begins sampling under label. On a running logger it only renames the
// current segment.
func (l *Logger) Start(label string) error {
	l.mu.Lock()
	switch l.state {
	case Running:
		l.mu.Unlock()
		return l.SetSegmentName(label)
	case Stopped:
		l.mu.Unlock()
		return ErrStopped
	}
	l.label = label
	l.state = Running
	l.mu.Unlock()

	l.log.Info("cpu usage logging started",
		zap.String("segment", label),
		zap.Duration("interval", l.interval),
		zap.Int("cpus", l.cpus),
	)
	go l.loop()
	return nil
}

// SetSegmentName closes the current segment and labels subsequent samples
// with label. The closing boundary repeats the last sample's values under the
// old label so the old segment extends up to the switch. Without any sample
// there is nothing to repeat and only the label changes. Renaming to the
// current label does nothing and writes no boundary sample.
func (l *Logger) SetSegmentName(label string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Stopped {
		return ErrStopped
	}
	if label == l.label {
		return nil
	}
	if n := len(l.samples); n > 0 {
		last := l.samples[n-1]
		l.samples = append(l.samples, Sample{
			Time:      l.stampLocked(),
			CPU:       last.CPU,
			Segment:   l.label,
			Processes: last.Processes,
		})
	}
	l.log.Debug("segment renamed", zap.String("from", l.label), zap.String("to", label))
	l.label = label
	return nil
}

// Stop ends sampling, shuts the enumerator down and closes the snapshot. A
// logger that was never started is torn down as well and ErrNotStarted is
// returned.
func (l *Logger) Stop() error {
	l.mu.Lock()
	prev := l.state
	if prev == Stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.state = Stopped
	l.mu.Unlock()

	if prev == Running {
		close(l.quit)
		<-l.done
	}
	l.cancel()

	l.enum.Stop()
	if !l.enum.Wait(l.grace) {
		l.log.Warn("enumerator did not stop in time, killing it", zap.Duration("grace", l.grace))
		l.enum.Kill()
		l.enum.Wait(l.grace)
	}
	l.snapshot.Close()

	if prev == Idle {
		return ErrNotStarted
	}
	l.log.Info("cpu usage logging stopped", zap.Int("samples", len(l.Samples())))
	return nil
}

// Samples returns a copy of the recorded samples.
func (l *Logger) Samples() []Sample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.samples)
}

// Series returns the recording with the metadata a renderer needs.
func (l *Logger) Series() Series {
	return Series{
		Name:     l.Name(),
		CPUCount: l.cpus,
		Interval: l.interval,
		Samples:  l.Samples(),
	}
}

func (l *Logger) loop() {
	defer close(l.done)

	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		l.reconcile(l.ctx)
		total := l.measure(l.ctx)
		l.record(total, len(l.records))

		select {
		case <-l.quit:
			return
		case <-t.C:
		}
	}
}

// reconcile brings the tracked handles in line with the latest snapshot.
func (l *Logger) reconcile(ctx context.Context) {
	pids, _ := l.snapshot.Latest()
	want := make(map[int32]struct{}, len(pids))
	for _, pid := range pids {
		want[pid] = struct{}{}
		if _, ok := l.records[pid]; ok {
			continue
		}
		h, err := l.source.Open(ctx, pid)
		if err != nil {
			l.skip("open process", pid, err)
			continue
		}
		// The first reading has no baseline; throw it away.
		if _, err := h.Percent(ctx); err != nil {
			l.skip("prime cpu handle", pid, err)
			continue
		}
		l.records[pid] = h
	}

	requireRunning := l.enum.RequireRunning()
	for pid, h := range l.records {
		if _, ok := want[pid]; !ok {
			delete(l.records, pid)
			continue
		}
		status, err := h.Status(ctx)
		if err != nil {
			l.skip("read status", pid, err)
			delete(l.records, pid)
			continue
		}
		if requireRunning && !procs.IsRunning(status) {
			delete(l.records, pid)
		}
	}
}

// measure sums the per-core CPU usage of all tracked handles. Handles whose
// process vanished are dropped and left out of the sum.
func (l *Logger) measure(ctx context.Context) float64 {
	var total float64
	for pid, h := range l.records {
		pct, err := h.Percent(ctx)
		if err != nil {
			l.skip("read cpu percent", pid, err)
			delete(l.records, pid)
			continue
		}
		total += pct / float64(l.cpus)
	}
	return total
}

func (l *Logger) record(total float64, tracked int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples = append(l.samples, Sample{
		Time:      l.stampLocked(),
		CPU:       total,
		Segment:   l.label,
		Processes: tracked,
	})
}

// stampLocked returns the current time, never earlier than the last sample.
func (l *Logger) stampLocked() time.Time {
	ts := l.now()
	if n := len(l.samples); n > 0 && ts.Before(l.samples[n-1].Time) {
		ts = l.samples[n-1].Time
	}
	return ts
}

func (l *Logger) skip(what string, pid int32, err error) {
	if errors.Is(err, procs.ErrGone) {
		return
	}
	l.log.Debug(what, zap.Int32("pid", pid), zap.Error(err))
}
