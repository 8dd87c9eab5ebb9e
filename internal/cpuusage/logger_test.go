package cpuusage

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"devutils/internal/procs"
	"devutils/internal/procs/procstest"
)

const testInterval = 10 * time.Millisecond

func openLogger(t *testing.T, src *procstest.Source, pattern string) *Logger {
	t.Helper()
	l, err := Open(context.Background(), src,
		procs.EnumeratorOptions{
			Matcher:      procs.NewMatcher(pattern, procs.MatchSubstring),
			PollInterval: 2 * time.Millisecond,
		},
		Options{Interval: testInterval, CPUCount: 4},
	)
	if err != nil {
		t.Fatalf("open logger: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func waitSamples(t *testing.T, l *Logger, cond func([]Sample) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(l.Samples()) {
			return
		}
		time.Sleep(testInterval / 2)
	}
	t.Fatalf("condition not met, samples: %+v", l.Samples())
}

func atLeast(n int) func([]Sample) bool {
	return func(s []Sample) bool { return len(s) >= n }
}

func TestLoggerNoMatchesRecordsZeroSamples(t *testing.T) {
	src := procstest.New()
	src.Add(1, "bash", 90)

	l := openLogger(t, src, "does-not-exist")
	if err := l.Start("init"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSamples(t, l, atLeast(5))
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	samples := l.Samples()
	if len(samples) == 0 {
		t.Fatal("expected periodic samples even without matches")
	}
	for i, s := range samples {
		if s.Processes != 0 || s.CPU != 0 {
			t.Fatalf("sample %d: expected zero usage and zero processes, got %+v", i, s)
		}
	}
}

func TestLoggerPrimesHandleAndNormalisesByCores(t *testing.T) {
	src := procstest.New()
	src.Add(7, "worker", 80)

	l := openLogger(t, src, "worker")
	if err := l.Start("a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSamples(t, l, atLeast(3))
	_ = l.Stop()

	for i, s := range l.Samples() {
		if s.CPU != 20 {
			t.Fatalf("sample %d: expected 80%%/4 cores = 20, got %v", i, s.CPU)
		}
		if s.Processes != 1 {
			t.Fatalf("sample %d: expected 1 tracked process, got %d", i, s.Processes)
		}
	}
	if src.Opens() != 1 {
		t.Fatalf("expected handle to be opened once, got %d", src.Opens())
	}
}

func TestLoggerSegmentBoundary(t *testing.T) {
	src := procstest.New()
	src.Add(7, "worker", 40)

	l := openLogger(t, src, "worker")
	if err := l.Start("a"); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitSamples(t, l, atLeast(3))
	if err := l.SetSegmentName("b"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	waitSamples(t, l, func(s []Sample) bool {
		return s[len(s)-1].Segment == "b"
	})
	_ = l.Stop()

	samples := l.Samples()
	last := -1
	for i, s := range samples {
		if s.Segment == "a" {
			last = i
		}
	}
	if last < 1 {
		t.Fatalf("expected at least two samples labelled a, got %+v", samples)
	}
	boundary, before := samples[last], samples[last-1]
	if before.Segment != "a" || boundary.CPU != before.CPU || boundary.Processes != before.Processes {
		t.Fatalf("expected duplicate-valued boundary under a, got %+v after %+v", boundary, before)
	}
	if last+1 >= len(samples) {
		t.Fatal("expected samples labelled b after the boundary")
	}
	for _, s := range samples[last+1:] {
		if s.Segment != "b" {
			t.Fatalf("expected only b after boundary, got %+v", s)
		}
	}
}

func TestLoggerLabelRunsMatchRenames(t *testing.T) {
	src := procstest.New()
	src.Add(1, "worker", 10)

	l := openLogger(t, src, "worker")
	labels := []string{"a", "b", "b", "c", "a"}
	if err := l.Start(labels[0]); err != nil {
		t.Fatalf("start: %v", err)
	}
	changes := 0
	prev := labels[0]
	for _, label := range labels[1:] {
		n := len(l.Samples())
		waitSamples(t, l, atLeast(n+1))
		if err := l.SetSegmentName(label); err != nil {
			t.Fatalf("rename %q: %v", label, err)
		}
		if label != prev {
			changes++
		}
		prev = label
	}
	n := len(l.Samples())
	waitSamples(t, l, atLeast(n+1))
	_ = l.Stop()

	segs := Segments(l.Samples())
	if len(segs) != changes+1 {
		t.Fatalf("expected %d label runs, got %d: %+v", changes+1, len(segs), segs)
	}
	for i := 1; i < len(segs); i++ {
		if segs[i].Label == segs[i-1].Label {
			t.Fatalf("label run %q repeats immediately", segs[i].Label)
		}
	}
}

func TestLoggerTimestampsNonDecreasing(t *testing.T) {
	src := procstest.New()
	src.Add(1, "worker", 10)

	// A clock that steps backwards on every call.
	var mu sync.Mutex
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		base = base.Add(-time.Second)
		return base
	}

	l, err := Open(context.Background(), src,
		procs.EnumeratorOptions{Matcher: procs.NewMatcher("worker", procs.MatchSubstring)},
		Options{Interval: testInterval, CPUCount: 2, Clock: clock},
	)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = l.Start("a")
	waitSamples(t, l, atLeast(3))
	_ = l.SetSegmentName("b")
	waitSamples(t, l, atLeast(6))
	_ = l.Stop()

	samples := l.Samples()
	for i := 1; i < len(samples); i++ {
		if samples[i].Time.Before(samples[i-1].Time) {
			t.Fatalf("sample %d goes back in time: %v < %v", i, samples[i].Time, samples[i-1].Time)
		}
	}
}

func TestLoggerStartTwiceOnlyRenames(t *testing.T) {
	src := procstest.New()
	src.Add(1, "worker", 10)

	l := openLogger(t, src, "worker")
	_ = l.Start("a")
	waitSamples(t, l, atLeast(2))
	if err := l.Start("b"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if l.Segment() != "b" || l.State() != Running {
		t.Fatalf("expected running under b, got %s under %q", l.State(), l.Segment())
	}

	begin := time.Now()
	time.Sleep(20 * testInterval)
	_ = l.Stop()
	elapsed := time.Since(begin)

	var underB int
	for _, s := range l.Samples() {
		if s.Segment == "b" {
			underB++
		}
	}
	// One loop yields about elapsed/interval samples; two would double it.
	limit := int(elapsed/testInterval) + 3
	if underB > limit {
		t.Fatalf("expected at most %d samples under b, got %d", limit, underB)
	}
}

func TestLoggerDropsVanishedAndSleepingProcesses(t *testing.T) {
	src := procstest.New()
	src.Add(1, "worker", 40)
	src.Add(2, "worker", 40)
	src.Add(3, "worker", 40)

	l := openLogger(t, src, "worker")
	_ = l.Start("a")
	waitSamples(t, l, func(s []Sample) bool {
		return len(s) > 0 && s[len(s)-1].Processes == 3
	})

	src.Remove(2)
	src.SetStatus(3, "sleep")
	waitSamples(t, l, func(s []Sample) bool {
		last := s[len(s)-1]
		return last.Processes == 1 && last.CPU == 10
	})
	_ = l.Stop()

	for i, s := range l.Samples() {
		if s.Processes < 0 {
			t.Fatalf("sample %d has negative process count", i)
		}
		if want := float64(s.Processes) * 10; s.CPU != want {
			t.Fatalf("sample %d: expected cpu %v for %d processes, got %v", i, want, s.Processes, s.CPU)
		}
	}
}

func TestLoggerRenameBeforeAnySample(t *testing.T) {
	l := openLogger(t, procstest.New(), "x")
	if err := l.SetSegmentName("early"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if len(l.Samples()) != 0 {
		t.Fatalf("expected no boundary sample, got %+v", l.Samples())
	}
	if l.Segment() != "early" {
		t.Fatalf("expected label early, got %q", l.Segment())
	}
}

func TestLoggerLifecycleErrors(t *testing.T) {
	l := openLogger(t, procstest.New(), "x")
	if err := l.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if err := l.Stop(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped on second stop, got %v", err)
	}
	if err := l.Start("a"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped on start after stop, got %v", err)
	}
	if err := l.SetSegmentName("b"); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped on rename after stop, got %v", err)
	}
}

func TestLoggerStopTearsDownEnumerator(t *testing.T) {
	src := procstest.New()
	l := openLogger(t, src, "x")
	_ = l.Start("a")
	waitSamples(t, l, atLeast(1))
	_ = l.Stop()

	if !l.snapshot.Closed() {
		t.Fatal("expected snapshot to be closed")
	}
	select {
	case <-l.enum.Done():
	default:
		t.Fatal("expected enumerator loop to have exited")
	}
}

func TestLoggerStopKillsStuckEnumerator(t *testing.T) {
	src := procstest.New()
	enum := procs.NewEnumerator(src, procs.NewSnapshot(), procs.EnumeratorOptions{
		Matcher:      procs.NewMatcher("x", procs.MatchSubstring),
		PollInterval: 2 * time.Millisecond,
	})
	if err := enum.Start(context.Background()); err != nil {
		t.Fatalf("start enumerator: %v", err)
	}
	l := New(enum, src, Options{Interval: testInterval, CPUCount: 4, StopGrace: 50 * time.Millisecond})
	if err := l.Start("a"); err != nil {
		t.Fatalf("start: %v", err)
	}

	src.BlockListing()
	deadline := time.Now().Add(2 * time.Second)
	for src.Blocked() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("enumerator never reached the blocked listing")
		}
		time.Sleep(time.Millisecond)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop() }()
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return with a stuck enumerator")
	}

	select {
	case <-enum.Done():
	default:
		t.Fatal("expected enumerator loop to have been killed")
	}
	if !enum.Snapshot().Closed() {
		t.Fatal("expected snapshot to be closed")
	}
}

func TestLoggerRenameToCurrentLabelIsNoop(t *testing.T) {
	src := procstest.New()
	src.Add(1, "worker", 10)

	// Only the immediate first sample is taken within the test.
	l, err := Open(context.Background(), src,
		procs.EnumeratorOptions{Matcher: procs.NewMatcher("worker", procs.MatchSubstring)},
		Options{Interval: time.Hour, CPUCount: 4},
	)
	if err != nil {
		t.Fatalf("open logger: %v", err)
	}
	t.Cleanup(func() { _ = l.Stop() })
	_ = l.Start("a")
	waitSamples(t, l, atLeast(1))

	if err := l.SetSegmentName("a"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if n := len(l.Samples()); n != 1 {
		t.Fatalf("expected no boundary sample for the same label, got %d samples", n)
	}
	if err := l.SetSegmentName("b"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	got := l.Samples()
	if len(got) != 2 || got[1].Segment != "a" || l.Segment() != "b" {
		t.Fatalf("expected one boundary sample labelled a, got %+v", got)
	}
}

func TestLoggerSamplesStableAfterStop(t *testing.T) {
	src := procstest.New()
	src.Add(1, "worker", 10)

	l := openLogger(t, src, "worker")
	_ = l.Start("a")
	waitSamples(t, l, atLeast(3))
	_ = l.Stop()

	first := l.Samples()
	time.Sleep(5 * testInterval)
	second := l.Samples()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("samples changed after stop: %d vs %d", len(first), len(second))
	}

	s := l.Series()
	if s.Name != "worker" || s.CPUCount != 4 || s.Interval != testInterval {
		t.Fatalf("unexpected series metadata: %+v", s)
	}
}
