package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"devutils/internal/cpuusage"
)

func openStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "data", "runs.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleSeries() cpuusage.Series {
	base := time.Date(2024, 5, 19, 11, 52, 25, 123456789, time.UTC)
	return cpuusage.Series{
		Name:     "python",
		CPUCount: 8,
		Interval: 500 * time.Millisecond,
		Samples: []cpuusage.Sample{
			{Time: base, CPU: 12.5, Segment: "single core", Processes: 1},
			{Time: base.Add(500 * time.Millisecond), CPU: 12.5, Segment: "single core", Processes: 1},
			{Time: base.Add(600 * time.Millisecond), CPU: 12.5, Segment: "single core", Processes: 1},
			{Time: base.Add(time.Second), CPU: 50, Segment: "half load", Processes: 4},
		},
	}
}

func TestSaveAndLoadSeries(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	in := sampleSeries()

	id, err := s.SaveRun(ctx, in)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	out, err := s.Series(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if out.Name != in.Name || out.CPUCount != in.CPUCount || out.Interval != in.Interval {
		t.Fatalf("metadata mismatch: %+v", out)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("expected %d samples, got %d", len(in.Samples), len(out.Samples))
	}
	for i := range in.Samples {
		a, b := in.Samples[i], out.Samples[i]
		if !a.Time.Equal(b.Time) || a.CPU != b.CPU || a.Segment != b.Segment || a.Processes != b.Processes {
			t.Fatalf("sample %d mismatch: %+v vs %+v", i, a, b)
		}
	}
}

func TestRunsListing(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	first, _ := s.SaveRun(ctx, sampleSeries())
	second, _ := s.SaveRun(ctx, sampleSeries())

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != first || runs[1].ID != second {
		t.Fatalf("unexpected runs %+v", runs)
	}
	if runs[0].Samples != 4 || runs[0].Name != "python" {
		t.Fatalf("unexpected run summary %+v", runs[0])
	}
	if !runs[0].StartedAt.Equal(sampleSeries().Start()) {
		t.Fatalf("unexpected start %v", runs[0].StartedAt)
	}
}

func TestSaveRejectsEmptySeries(t *testing.T) {
	s := openStore(t)
	_, err := s.SaveRun(context.Background(), cpuusage.Series{Name: "ghost"})
	if !errors.Is(err, cpuusage.ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
}

func TestUnknownRun(t *testing.T) {
	s := openStore(t)
	if _, err := s.Series(context.Background(), 99); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := s.DeleteRun(context.Background(), 99); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound on delete, got %v", err)
	}
}

func TestDeleteRunCascades(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	id, _ := s.SaveRun(ctx, sampleSeries())
	if err := s.DeleteRun(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM samples WHERE run_id = ?`, id).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected samples to be deleted, %d left", n)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	s, err := NewSQLite(path, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, _ := s.SaveRun(context.Background(), sampleSeries())
	_ = s.Close()

	s, err = NewSQLite(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Series(context.Background(), id); err != nil {
		t.Fatalf("load after reopen: %v", err)
	}
}
