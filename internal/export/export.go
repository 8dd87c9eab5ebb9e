// Package export writes recorded series as CSV, JSON, or YAML.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"devutils/internal/cpuusage"
)

// Format is an output encoding.
type Format string

const (
	CSV  Format = "csv"
	JSON Format = "json"
	YAML Format = "yaml"
)

// Formats lists the supported encodings.
var Formats = []Format{CSV, JSON, YAML}

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case CSV, JSON, YAML:
		return f, nil
	case "yml":
		return YAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("cannot infer export format from %q", path)
	}
	return ParseFormat(ext)
}

type document struct {
	Name       string `json:"name" yaml:"name"`
	CPUCount   int    `json:"cpu_count" yaml:"cpu_count"`
	IntervalMS int64  `json:"interval_ms" yaml:"interval_ms"`
	Samples    []row  `json:"samples" yaml:"samples"`
}

type row struct {
	Timestamp float64 `json:"timestamp" yaml:"timestamp"` // unix seconds
	Time      string  `json:"time" yaml:"time"`
	CPU       float64 `json:"cpu" yaml:"cpu"`
	Segment   string  `json:"segment" yaml:"segment"`
	Processes int     `json:"processes" yaml:"processes"`
}

func toDocument(s cpuusage.Series) document {
	doc := document{
		Name:       s.Name,
		CPUCount:   s.CPUCount,
		IntervalMS: s.Interval.Milliseconds(),
		Samples:    make([]row, 0, len(s.Samples)),
	}
	for _, smp := range s.Samples {
		doc.Samples = append(doc.Samples, row{
			Timestamp: float64(smp.Time.UnixNano()) / float64(time.Second),
			Time:      smp.Time.Format(time.RFC3339Nano),
			CPU:       smp.CPU,
			Segment:   smp.Segment,
			Processes: smp.Processes,
		})
	}
	return doc
}

// Write encodes s to w. Empty series are rejected with cpuusage.ErrNoSamples.
func Write(w io.Writer, f Format, s cpuusage.Series) error {
	if err := s.Validate(); err != nil {
		return err
	}
	doc := toDocument(s)

	switch f {
	case CSV:
		return writeCSV(w, doc)
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case YAML:
		b, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("yaml encode: %w", err)
		}
		_, err = w.Write(b)
		return err
	default:
		return fmt.Errorf("unknown export format %q", f)
	}
}

// csvHeader names the columns written by CSV export.
var csvHeader = []string{"timestamp", "time", "cpu", "segment", "processes"}

func writeCSV(w io.Writer, doc document) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range doc.Samples {
		rec := []string{
			strconv.FormatFloat(r.Timestamp, 'f', 6, 64),
			r.Time,
			strconv.FormatFloat(r.CPU, 'f', 3, 64),
			r.Segment,
			strconv.Itoa(r.Processes),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes s to path, creating parent directories. An empty format
// is inferred from the extension.
func WriteFile(path string, f Format, s cpuusage.Series) error {
	if f == "" {
		var err error
		if f, err = FormatFromPath(path); err != nil {
			return err
		}
	}
	// Validate before touching the filesystem.
	if err := s.Validate(); err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export dir: %w", err)
		}
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := Write(out, f, s); err != nil {
		_ = out.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
