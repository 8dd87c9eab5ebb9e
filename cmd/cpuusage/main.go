package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"devutils/internal/config"
	"devutils/internal/logger"
	"devutils/internal/storage"
)

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v        *viper.Viper
	cfg      *config.Config
	log      *logger.Logger
	profiler interface{ Stop() }
}

var (
	env = app{v: viper.New()}

	configPath  string
	profileMode string
)

var rootCmd = &cobra.Command{
	Use:   "cpuusage [command]",
	Short: "cpuusage: record the CPU usage of processes by name",
	Long: `cpuusage samples the CPU utilization of every process whose name matches a
pattern, groups the samples into named segments, and stores the runs for later
inspection or export.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadWith(env.v, configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		env.cfg = cfg

		env.log, err = logger.New(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("set up logger: %w", err)
		}

		env.profiler, err = startProfile(profileMode)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		env.shutdown()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file (default ./configs/config.yaml)")
	pf.String("log-level", "info", "Log level: debug|info|warn|error")
	pf.String("db", "./data/cpuusage.db", "SQLite file holding recorded runs")
	pf.StringVar(&profileMode, "profile", "", "Profile this tool: cpu|mem|block|mutex|trace")

	cobra.CheckErr(env.v.BindPFlag("LogLevel", pf.Lookup("log-level")))
	cobra.CheckErr(env.v.BindPFlag("DBPath", pf.Lookup("db")))
}

// startProfile starts a pkg/profile session writing into ./profiles.
func startProfile(mode string) (interface{ Stop() }, error) {
	var opt func(*profile.Profile)
	switch strings.ToLower(mode) {
	case "":
		return nil, nil
	case "cpu":
		opt = profile.CPUProfile
	case "mem":
		opt = profile.MemProfile
	case "block":
		opt = profile.BlockProfile
	case "mutex":
		opt = profile.MutexProfile
	case "trace":
		opt = profile.TraceProfile
	default:
		return nil, fmt.Errorf("unknown profile mode %q", mode)
	}
	// Commands handle SIGINT themselves; the profile is flushed in shutdown.
	return profile.Start(opt, profile.ProfilePath("./profiles"), profile.NoShutdownHook, profile.Quiet), nil
}

func (a *app) shutdown() {
	if a.profiler != nil {
		a.profiler.Stop()
		a.profiler = nil
	}
	if a.log != nil {
		logger.Flush(a.log.Logger)
	}
}

func (a *app) openStore() (*storage.SQLite, error) {
	store, err := storage.NewSQLite(a.cfg.DBPath, a.log.Logger)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", a.cfg.DBPath, err)
	}
	return store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if env.log != nil {
			env.log.Logger.Error("command failed", zap.Error(err))
		}
		env.shutdown()
		os.Exit(1)
	}
}
