package procs_test

import (
	"errors"
	"slices"
	"testing"

	"devutils/internal/procs"
)

func TestSnapshotLastValueWins(t *testing.T) {
	s := procs.NewSnapshot()
	if _, ok := s.Latest(); ok {
		t.Fatal("expected no value before first publish")
	}

	for _, set := range [][]int32{{1, 2}, {3}, {4, 5, 6}} {
		if err := s.Publish(set); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	got, ok := s.Latest()
	if !ok || !slices.Equal(got, []int32{4, 5, 6}) {
		t.Fatalf("expected latest [4 5 6], got %v (ok=%v)", got, ok)
	}
	if s.Version() != 3 {
		t.Fatalf("expected version 3, got %d", s.Version())
	}
}

func TestSnapshotEmptyPublishIsAValue(t *testing.T) {
	s := procs.NewSnapshot()
	if err := s.Publish(nil); err != nil {
		t.Fatalf("publish: %v", err)
	}
	got, ok := s.Latest()
	if !ok || len(got) != 0 {
		t.Fatalf("expected empty published set, got %v (ok=%v)", got, ok)
	}
}

func TestSnapshotCopiesOnPublishAndRead(t *testing.T) {
	s := procs.NewSnapshot()
	in := []int32{7, 8}
	_ = s.Publish(in)
	in[0] = 99

	out, _ := s.Latest()
	if out[0] != 7 {
		t.Fatalf("publish did not copy input: %v", out)
	}
	out[1] = 42
	again, _ := s.Latest()
	if again[1] != 8 {
		t.Fatalf("latest did not copy output: %v", again)
	}
}

func TestSnapshotClosedRejectsPublish(t *testing.T) {
	s := procs.NewSnapshot()
	_ = s.Publish([]int32{1})
	s.Close()

	if err := s.Publish([]int32{2}); !errors.Is(err, procs.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	got, ok := s.Latest()
	if !ok || !slices.Equal(got, []int32{1}) {
		t.Fatalf("expected last value to survive close, got %v", got)
	}
	if !s.Closed() {
		t.Fatal("expected Closed to report true")
	}
}
