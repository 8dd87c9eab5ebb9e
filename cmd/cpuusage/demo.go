package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devutils/internal/loadgen"
	"devutils/internal/procs"
	"devutils/internal/stimer"
)

var (
	demoFlags sessionFlags
	demoPhase time.Duration
)

func init() {
	f := cmdDemo.Flags()
	f.DurationVar(&demoPhase, "phase", 5*time.Second, "Length of each load phase")
	demoFlags.register(f)
	rootCmd.AddCommand(cmdDemo)
}

var cmdDemo = &cobra.Command{
	Use:   "demo",
	Short: "Record this tool while it burns CPU in increasing phases",
	Long: `Loads one core, a quarter, half and then all cores for --phase each, while
recording its own CPU usage with one segment per phase.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		// Busy workers share the process with the sampler, so its status is
		// not reliably "running" at scan time.
		l, err := openLogger(ctx, procs.NewMatcher(filepath.Base(self), procs.MatchSubstring), false)
		if err != nil {
			return err
		}

		phases := loadgen.Phases(l.CPUCount())
		if demoFlags.segment != "" && cmd.Flags().Changed("segment") {
			phases[0].Label = demoFlags.segment
		}
		if err := l.Start(phases[0].Label); err != nil {
			_ = l.Stop()
			return err
		}
		spin := newProgress(demoFlags.quiet)
		timers := stimer.New()

		var burnErr error
		for i, ph := range phases {
			if i > 0 {
				if err := l.SetSegmentName(ph.Label); err != nil {
					burnErr = err
					break
				}
			}
			spin.segment(l.Name(), ph.Label)
			timers.Start(ph.Label)
			spins, err := loadgen.Burn(ctx, ph.Workers, demoPhase)
			elapsed, _ := timers.Stop(ph.Label)
			env.log.Logger.Info("phase done",
				zap.String("segment", ph.Label),
				zap.Int("workers", ph.Workers),
				zap.Uint64("spins", spins),
				zap.String("elapsed", stimer.Format(ph.Label, elapsed)))
			if err != nil {
				burnErr = err
				break
			}
		}

		spin.stop()
		if err := l.Stop(); err != nil {
			return fmt.Errorf("stop recording: %w", err)
		}
		if burnErr != nil && !errors.Is(burnErr, context.Canceled) {
			return burnErr
		}
		return finish(context.WithoutCancel(ctx), cmd.OutOrStdout(), l.Series(), demoFlags)
	},
}
