package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devutils/internal/report"
	"devutils/internal/storage"
)

func init() {
	cmdRuns.AddCommand(cmdRunsShow, cmdRunsRm)
	rootCmd.AddCommand(cmdRuns)
}

var cmdRuns = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := env.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.Runs(cmd.Context())
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tCPUS\tINTERVAL\tSAMPLES")
		for _, r := range runs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%d\n",
				r.ID, r.Name, r.StartedAt.Local().Format("2006-01-02 15:04:05"), r.CPUCount, r.Interval, r.Samples)
		}
		return tw.Flush()
	},
}

var cmdRunsShow = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the segment summary of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		store, err := env.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		series, err := store.Series(cmd.Context(), id)
		if err != nil {
			return err
		}
		text, err := report.Render(series)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), text)
		return nil
	},
}

var cmdRunsRm = &cobra.Command{
	Use:     "rm <id>...",
	Aliases: []string{"remove"},
	Short:   "Delete recorded runs",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := env.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var errs []error
		for _, arg := range args {
			id, err := parseRunID(arg)
			if err == nil {
				err = store.DeleteRun(cmd.Context(), id)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("remove %s: %w", arg, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed run %d\n", id)
		}
		return errors.Join(errs...)
	},
}

func parseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q: %w", s, storage.ErrRunNotFound)
	}
	return id, nil
}
