package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"devutils/internal/procs"
)

// EnvPrefix namespaces every environment override, e.g. CPUUSAGE_PATTERN.
const EnvPrefix = "CPUUSAGE"

// Config holds every configurable value of the cpuusage tool.
type Config struct {
	// Process selection
	Pattern        string // substring of the process name, e.g. "python"
	Match          string // substring|isubstring|fuzzy
	RequireRunning bool   // only track processes whose status is "running"

	// Sampling
	Interval     time.Duration // between two CPU samples
	PollInterval time.Duration // between two process scans

	// Persistence
	DBPath string // SQLite file holding recorded runs

	// Server
	ListenAddr string
	LogLevel   string // debug|info|warn|error

	// Upload target for exported runs
	Remote Remote
}

// Remote describes the SSH host exports are copied to.
type Remote struct {
	Host    string // host[:port]
	User    string
	KeyPath string // private key used for authentication
}

// Load reads configuration from (in decreasing priority):
//  1. command-line flags (bound by the caller through BindFlag)
//  2. environment variables prefixed with CPUUSAGE_
//  3. the yaml file at path, or ./configs/config.yaml when path is empty.
//
// An explicit path must exist; the default file is optional.
func Load(path string) (*Config, error) {
	return load(viper.New(), path)
}

// LoadWith is Load on a caller-prepared viper instance, typically one that
// already has command flags bound.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	return load(v, path)
}

func load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		var notFound viper.ConfigFileNotFoundError
		if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Pattern", "python")
	v.SetDefault("Match", string(procs.MatchInsensitive))
	v.SetDefault("RequireRunning", true)
	v.SetDefault("Interval", "500ms")
	v.SetDefault("PollInterval", "100ms")
	v.SetDefault("DBPath", "./data/cpuusage.db")
	v.SetDefault("ListenAddr", ":8080")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("Remote.Host", "")
	v.SetDefault("Remote.User", "")
	v.SetDefault("Remote.KeyPath", "")
}

// Validate checks the values Load cannot default away.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pattern) == "" {
		return errors.New("Pattern must not be empty")
	}
	if _, err := procs.ParseMatchMode(c.Match); err != nil {
		return err
	}
	if c.Interval <= 0 {
		return fmt.Errorf("Interval must be > 0, got %s", c.Interval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval must be > 0, got %s", c.PollInterval)
	}
	return nil
}

// MatchMode returns the validated match mode.
func (c *Config) MatchMode() procs.MatchMode {
	m, _ := procs.ParseMatchMode(c.Match)
	return m
}

// Matcher builds the process matcher described by the config.
func (c *Config) Matcher() procs.Matcher {
	return procs.NewMatcher(c.Pattern, c.MatchMode())
}
