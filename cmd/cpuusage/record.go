package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devutils/internal/cpuusage"
)

var (
	recordFlags    sessionFlags
	recordDuration time.Duration
)

func init() {
	f := cmdRecord.Flags()
	f.String("pattern", "python", "Substring of the process names to track")
	f.String("match", "isubstring", "How the pattern is matched: substring|isubstring|fuzzy")
	f.Duration("interval", cpuusage.DefaultInterval, "Time between two CPU samples")
	f.Duration("poll-interval", 100*time.Millisecond, "Time between two process scans")
	f.Bool("require-running", true, "Only track processes whose status is running")
	f.DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 waits for Ctrl+C)")
	recordFlags.register(f)

	for key, name := range map[string]string{
		"Pattern":        "pattern",
		"Match":          "match",
		"Interval":       "interval",
		"PollInterval":   "poll-interval",
		"RequireRunning": "require-running",
	} {
		cobra.CheckErr(env.v.BindPFlag(key, f.Lookup(name)))
	}

	rootCmd.AddCommand(cmdRecord)
}

var cmdRecord = &cobra.Command{
	Use:   "record",
	Short: "Record the CPU usage of matching processes",
	Long: `Samples the summed CPU usage of every process whose name matches --pattern
until --duration elapses or Ctrl+C is pressed. Each line read from stdin starts
a new segment named after the line.`,
	Example: `  cpuusage record --pattern python --duration 30s
  cpuusage record --pattern java --out runs/java.csv`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if recordDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, recordDuration)
			defer cancel()
		}

		l, err := openLogger(ctx, env.cfg.Matcher(), env.cfg.RequireRunning)
		if err != nil {
			return err
		}
		if err := l.Start(recordFlags.segment); err != nil {
			_ = l.Stop()
			return err
		}

		spin := newProgress(recordFlags.quiet)
		spin.segment(l.Name(), l.Segment())

		for label := range readSegments(ctx, cmd.InOrStdin()) {
			if err := l.SetSegmentName(label); err != nil {
				env.log.Logger.Warn("rename segment", zap.String("segment", label), zap.Error(err))
				continue
			}
			spin.segment(l.Name(), label)
		}

		spin.stop()
		if err := l.Stop(); err != nil {
			return fmt.Errorf("stop recording: %w", err)
		}
		return finish(context.WithoutCancel(ctx), cmd.OutOrStdout(), l.Series(), recordFlags)
	},
}

// readSegments yields trimmed non-empty stdin lines until ctx is done. The
// channel is closed only when ctx is done; EOF on stdin does not end a
// recording.
func readSegments(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	out := make(chan string)

	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
			env.log.Logger.Debug("stdin closed", zap.Error(err))
		}
	}()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case line := <-lines:
				label := strings.TrimSpace(line)
				if label == "" {
					continue
				}
				select {
				case out <- label:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
