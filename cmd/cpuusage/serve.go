package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"devutils/internal/server"
)

func init() {
	cmdServe.Flags().String("addr", ":8080", "Listen address")
	cobra.CheckErr(env.v.BindPFlag("ListenAddr", cmdServe.Flags().Lookup("addr")))
	rootCmd.AddCommand(cmdServe)
}

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Serve recorded runs over HTTP",
	Long: `Read-only JSON API over the run database:
  GET /healthz
  GET /runs
  GET /runs/{id}?format=json|csv|yaml
  GET /runs/{id}/segments`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := env.openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		return server.New(store, env.log.Logger).ListenAndServe(ctx, env.cfg.ListenAddr)
	},
}
