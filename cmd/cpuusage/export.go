package main

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"devutils/internal/export"
	"devutils/internal/remote"
)

var (
	exportFormat   string
	exportOut      string
	exportUpload   string
	exportInsecure bool
)

func init() {
	f := cmdExport.Flags()
	f.StringVarP(&exportFormat, "format", "f", "", "csv|json|yaml (default from --out, else csv)")
	f.StringVarP(&exportOut, "out", "o", "", "Write to this file instead of stdout")
	f.StringVar(&exportUpload, "upload", "", "Copy the export to [user@]host[:port]:path over SFTP (host defaults to Remote.Host)")
	f.BoolVar(&exportInsecure, "insecure", false, "Skip SSH host key verification")
	rootCmd.AddCommand(cmdExport)
}

var cmdExport = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a recorded run as CSV, JSON or YAML",
	Example: `  cpuusage export 3 > run.csv
  cpuusage export 3 -o runs/3.json
  cpuusage export 3 -f yaml --upload bench@lab:/srv/runs/3.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRunID(args[0])
		if err != nil {
			return err
		}
		format, err := resolveFormat(exportFormat, exportOut, exportUpload)
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

		if exportOut == "" && exportUpload == "" {
			if err := series.Validate(); err != nil {
				return err
			}
			return export.Write(cmd.OutOrStdout(), format, series)
		}

		local := exportOut
		if local == "" {
			dir, err := os.MkdirTemp("", "cpuusage-export-")
			if err != nil {
				return fmt.Errorf("create temp dir: %w", err)
			}
			defer os.RemoveAll(dir)
			local = filepath.Join(dir, fmt.Sprintf("run-%d.%s", id, format))
		}
		if err := export.WriteFile(local, format, series); err != nil {
			return err
		}
		if exportOut != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "exported run %d to %s\n", id, exportOut)
		}

		if exportUpload == "" {
			return nil
		}
		dest := exportUpload
		if !strings.Contains(dest, ":") && env.cfg.Remote.Host != "" {
			dest = env.cfg.Remote.Host + ":" + dest
		}
		target, err := remote.ParseTarget(dest)
		if err != nil {
			return err
		}
		err = remote.Upload(cmd.Context(), local, target, remote.Options{
			User:     env.cfg.Remote.User,
			KeyPath:  env.cfg.Remote.KeyPath,
			Insecure: exportInsecure,
			Log:      env.log.Logger,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uploaded run %d to %s\n", id, target)
		return nil
	},
}

// resolveFormat picks the explicit format, else the one implied by the
// output or upload path, else CSV.
func resolveFormat(flag, out, upload string) (export.Format, error) {
	if flag != "" {
		return export.ParseFormat(flag)
	}
	for _, p := range []string{out, upload} {
		if p == "" || path.Ext(p) == "" {
			continue
		}
		return export.FormatFromPath(p)
	}
	return export.CSV, nil
}
