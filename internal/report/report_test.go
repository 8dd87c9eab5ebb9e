package report

import (
	"errors"
	"strings"
	"testing"
	"time"

	"devutils/internal/cpuusage"
)

func TestRenderListsSegments(t *testing.T) {
	base := time.Date(2024, 5, 19, 12, 0, 0, 0, time.UTC)
	s := cpuusage.Series{
		Name:     "python",
		CPUCount: 8,
		Interval: 500 * time.Millisecond,
		Samples: []cpuusage.Sample{
			{Time: base, CPU: 12.5, Segment: "single core", Processes: 1},
			{Time: base.Add(time.Second), CPU: 12.5, Segment: "single core", Processes: 1},
			{Time: base.Add(2 * time.Second), CPU: 99, Segment: "full load", Processes: 8},
		},
	}
	out, err := Render(s)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{`"python"`, "8 cores", "single core", "full load", "99.0"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
	if strings.Index(out, "single core") > strings.Index(out, "full load") {
		t.Fatalf("segments out of order:\n%s", out)
	}
}

func TestRenderEmpty(t *testing.T) {
	_, err := Render(cpuusage.Series{Name: "nothing"})
	if !errors.Is(err, cpuusage.ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
}

func TestHot(t *testing.T) {
	if hot(10, 8) {
		t.Fatal("10% on 8 cores is below one core")
	}
	if !hot(20, 8) {
		t.Fatal("20% on 8 cores is above one core")
	}
	if hot(50, 0) {
		t.Fatal("unknown core count is never hot")
	}
}
