package cpuusage

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrNoSamples is reported when a series has nothing to plot or export.
var ErrNoSamples = errors.New("nothing to plot")

// Sample is one observation of the aggregate CPU usage of the tracked
// processes. CPU is normalised by the logical core count, so 100 means every
// core fully busy.
type Sample struct {
	Time      time.Time `json:"time"`
	CPU       float64   `json:"cpu"`
	Segment   string    `json:"segment"`
	Processes int       `json:"processes"`
}

// Series is a finished recording, ready to be rendered or exported.
type Series struct {
	Name     string        `json:"name"`
	CPUCount int           `json:"cpu_count"`
	Interval time.Duration `json:"interval"`
	Samples  []Sample      `json:"samples"`
}

// Validate reports ErrNoSamples for an empty series.
func (s Series) Validate() error {
	if len(s.Samples) == 0 {
		return fmt.Errorf("%w: no samples recorded, check process pattern %q", ErrNoSamples, s.Name)
	}
	return nil
}

// Start returns the time of the first sample.
func (s Series) Start() time.Time {
	if len(s.Samples) == 0 {
		return time.Time{}
	}
	return s.Samples[0].Time
}

// Duration is the span between the first and the last sample.
func (s Series) Duration() time.Duration {
	if len(s.Samples) < 2 {
		return 0
	}
	return s.Samples[len(s.Samples)-1].Time.Sub(s.Samples[0].Time)
}

// Segment is a run of consecutive samples sharing one label. First and Last
// are inclusive sample indexes.
type Segment struct {
	Label string
	First int
	Last  int
	Start time.Time
	End   time.Time
}

// Len is the number of samples in the segment.
func (s Segment) Len() int { return s.Last - s.First + 1 }

// Segments groups samples into label runs in order.
func Segments(samples []Sample) []Segment {
	var out []Segment
	for i, smp := range samples {
		if n := len(out); n > 0 && out[n-1].Label == smp.Segment {
			out[n-1].Last = i
			out[n-1].End = smp.Time
			continue
		}
		out = append(out, Segment{
			Label: smp.Segment,
			First: i,
			Last:  i,
			Start: smp.Time,
			End:   smp.Time,
		})
	}
	return out
}

// SegmentStats summarises the CPU usage inside one segment.
type SegmentStats struct {
	Segment
	Mean         float64
	Max          float64
	MaxProcesses int
}

// Summarize computes per-segment statistics.
func Summarize(samples []Sample) []SegmentStats {
	segs := Segments(samples)
	out := make([]SegmentStats, 0, len(segs))
	for _, seg := range segs {
		st := SegmentStats{Segment: seg}
		var sum float64
		for _, smp := range samples[seg.First : seg.Last+1] {
			sum += smp.CPU
			st.Max = max(st.Max, smp.CPU)
			st.MaxProcesses = max(st.MaxProcesses, smp.Processes)
		}
		st.Mean = sum / float64(seg.Len())
		out = append(out, st)
	}
	return out
}

// Labels returns the distinct segment labels in order of first appearance.
func Labels(samples []Sample) []string {
	var out []string
	for _, seg := range Segments(samples) {
		if !slices.Contains(out, seg.Label) {
			out = append(out, seg.Label)
		}
	}
	return out
}
