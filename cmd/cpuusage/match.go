package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"devutils/internal/procs"
)

var (
	matchMode    string
	matchAnyStat bool
)

func init() {
	cmdMatch.Flags().StringVar(&matchMode, "match", "", "substring|isubstring|fuzzy (default from config)")
	cmdMatch.Flags().BoolVar(&matchAnyStat, "all", false, "Include processes that are not running")
	rootCmd.AddCommand(cmdMatch)
}

var cmdMatch = &cobra.Command{
	Use:   "match [pattern]",
	Short: "List the processes a pattern currently selects",
	Long: `Runs a single process scan and prints what record would track right now.
The pattern defaults to the configured one.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matcher := env.cfg.Matcher()
		if len(args) == 1 {
			matcher.Pattern = args[0]
		}
		if matchMode != "" {
			mode, err := procs.ParseMatchMode(matchMode)
			if err != nil {
				return err
			}
			matcher.Mode = mode
		}

		enum := procs.NewEnumerator(procs.NewOSSource(), procs.NewSnapshot(), procs.EnumeratorOptions{
			Matcher:           matcher,
			IncludeNotRunning: !env.cfg.RequireRunning || matchAnyStat,
			Log:               env.log.Logger,
		})
		infos, err := enum.Scan(cmd.Context())
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No process matches %s\n", matcher)
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PID\tNAME\tSTATUS")
		for _, info := range infos {
			fmt.Fprintf(tw, "%d\t%s\t%s\n", info.PID, info.Name, strings.Join(info.Status, ","))
		}
		return tw.Flush()
	},
}
