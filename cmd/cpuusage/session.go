package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"go.uber.org/zap"

	"devutils/internal/cpuusage"
	"devutils/internal/export"
	"devutils/internal/logger"
	"devutils/internal/procs"
	"devutils/internal/report"
)

// sessionFlags are shared by record and demo.
type sessionFlags struct {
	segment string
	out     string
	noSave  bool
	quiet   bool
}

func (f *sessionFlags) register(cmd interface {
	StringVar(*string, string, string, string)
	BoolVar(*bool, string, bool, string)
}) {
	cmd.StringVar(&f.segment, "segment", cpuusage.DefaultSegment, "Label of the first segment")
	cmd.StringVar(&f.out, "out", "", "Also export the run to this file (.csv, .json, .yaml)")
	cmd.BoolVar(&f.noSave, "no-save", false, "Do not store the run in the database")
	cmd.BoolVar(&f.quiet, "quiet", false, "Hide the progress spinner")
}

// openLogger starts an enumerator and a CPU logger for matcher.
func openLogger(ctx context.Context, matcher procs.Matcher, requireRunning bool) (*cpuusage.Logger, error) {
	return cpuusage.Open(ctx, procs.NewOSSource(),
		procs.EnumeratorOptions{
			Matcher:           matcher,
			IncludeNotRunning: !requireRunning,
			PollInterval:      env.cfg.PollInterval,
			Log:               env.log.Logger,
		},
		cpuusage.Options{
			Interval: env.cfg.Interval,
			Log:      env.log.Logger,
		})
}

// progress is a spinner on stderr naming the current segment.
type progress struct {
	s *spinner.Spinner
}

func newProgress(quiet bool) *progress {
	if quiet {
		return &progress{}
	}
	s := spinner.New(spinner.CharSets[14], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Start()
	return &progress{s: s}
}

func (p *progress) segment(name, label string) {
	if p.s == nil {
		return
	}
	p.s.Lock()
	p.s.Suffix = fmt.Sprintf(" recording %s [%s]", name, label)
	p.s.Unlock()
}

func (p *progress) stop() {
	if p.s != nil {
		p.s.Stop()
	}
}

// finish prints the summary of a stopped logger, then stores and exports it.
func finish(ctx context.Context, w io.Writer, series cpuusage.Series, flags sessionFlags) error {
	text, err := report.Render(series)
	if err != nil {
		return err
	}
	fmt.Fprint(w, text)

	if !flags.noSave {
		store, err := env.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := store.SaveRun(ctx, series)
		if err != nil {
			return fmt.Errorf("save run: %w", err)
		}
		logger.WithRun(env.log.Logger, id).Info("run saved", zap.Int("samples", len(series.Samples)))
		fmt.Fprintf(w, "saved as run %d\n", id)
	}

	if flags.out != "" {
		if err := export.WriteFile(flags.out, "", series); err != nil {
			return fmt.Errorf("export run: %w", err)
		}
		fmt.Fprintf(w, "exported to %s\n", flags.out)
	}
	return nil
}
