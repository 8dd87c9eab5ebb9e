package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"devutils/internal/stimer"
)

var timerName string

func init() {
	cmdTimer.Flags().StringVar(&timerName, "name", "", "Label printed with the elapsed time (default: the command)")
	rootCmd.AddCommand(cmdTimer)
}

var cmdTimer = &cobra.Command{
	Use:   "timer -- <command> [args...]",
	Short: "Run a command and print how long it took",
	Example: `  cpuusage timer -- python train.py
  cpuusage timer --name build -- make all`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := timerName
		if name == "" {
			name = strings.Join(args, " ")
		}

		c := exec.CommandContext(cmd.Context(), args[0], args[1:]...)
		c.Stdin = os.Stdin
		c.Stdout = cmd.OutOrStdout()
		c.Stderr = cmd.ErrOrStderr()

		timers := stimer.New()
		timers.Start(name)
		runErr := c.Run()
		elapsed, err := timers.Stop(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), stimer.Format(name, elapsed))

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			env.log.Logger.Debug("command exited", zap.Int("code", exitErr.ExitCode()))
		}
		return runErr
	},
}
