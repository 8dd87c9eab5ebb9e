// Package report renders a per-segment text summary of a recorded series.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"devutils/internal/cpuusage"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	hotStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

// hot marks a segment whose mean exceeds one fully busy core.
func hot(mean float64, cpus int) bool {
	return cpus > 0 && mean > 100/float64(cpus)
}

// Render returns the summary table for s, or the ErrNoSamples error text for
// an empty series.
func Render(s cpuusage.Series) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("CPU utilization for %q", s.Name)))
	b.WriteByte('\n')
	b.WriteString(dimStyle.Render(fmt.Sprintf("%d cores, %d samples every %s over %s",
		s.CPUCount, len(s.Samples), s.Interval, s.Duration().Round(time.Millisecond))))
	b.WriteString("\n\n")

	stats := cpuusage.Summarize(s.Samples)
	width := len("segment")
	for _, st := range stats {
		width = max(width, len(st.Label))
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf("%-*s  %10s  %8s  %8s  %5s", width, "segment", "duration", "mean %", "max %", "procs")))
	b.WriteByte('\n')
	for _, st := range stats {
		label := labelStyle.Render(fmt.Sprintf("%-*s", width, st.Label))
		mean := fmt.Sprintf("%8.1f", st.Mean)
		if hot(st.Mean, s.CPUCount) {
			mean = hotStyle.Render(mean)
		}
		fmt.Fprintf(&b, "%s  %10s  %s  %8.1f  %5d\n",
			label, st.End.Sub(st.Start).Round(time.Millisecond), mean, st.Max, st.MaxProcesses)
	}
	return b.String(), nil
}
