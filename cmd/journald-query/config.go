package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tinytelemetry/journald-query/internal/discover"
	"github.com/tinytelemetry/journald-query/internal/duckdb"
	"github.com/tinytelemetry/journald-query/internal/httpserver"
	"github.com/tinytelemetry/journald-query/internal/model"
	"github.com/tinytelemetry/journald-query/internal/otlpexport"
	"github.com/tinytelemetry/journald-query/internal/socketrpc"
)

const (
	envPrefix             = "JOURNALD_QUERY"
	defaultFormat         = formatTable
	defaultStrategy       = "cross-probe"
	defaultQueryTimeout   = 30 * time.Second
	defaultInsertBatch    = duckdb.DefaultBatchSize
	defaultOTLPBatch      = otlpexport.DefaultBatchSize
	defaultOTLPFlush      = otlpexport.DefaultFlushInterval
	defaultOTLPTimeout    = otlpexport.DefaultExportTimeout
	defaultQueryLookback  = time.Hour
	defaultConfigFileName = "config.yml"
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Directory         string        `mapstructure:"directory"`
	Files             []string      `mapstructure:"files"`
	Format            string        `mapstructure:"format"`
	Strategy          string        `mapstructure:"strategy"`
	DiscoverWorkers   int           `mapstructure:"discover-workers"`
	PollInterval      time.Duration `mapstructure:"poll-interval"`
	StartOffset       time.Duration `mapstructure:"start-offset"`
	TailBuffer        int           `mapstructure:"tail-buffer"`
	APIEnabled        bool          `mapstructure:"api-enabled"`
	APIAddr           string        `mapstructure:"api-addr"`
	SocketEnabled     bool          `mapstructure:"socket-enabled"`
	SocketPath        string        `mapstructure:"socket-path"`
	ViaSocket         bool          `mapstructure:"via-socket"`
	OTLPEndpoint      string        `mapstructure:"otlp-endpoint"`
	OTLPBatchSize     int           `mapstructure:"otlp-batch-size"`
	OTLPFlushInterval time.Duration `mapstructure:"otlp-flush-interval"`
	OTLPTimeout       time.Duration `mapstructure:"otlp-timeout"`
	DBPath            string        `mapstructure:"db-path"`
	InsertBatchSize   int           `mapstructure:"insert-batch-size"`
	QueryTimeout      time.Duration `mapstructure:"query-timeout"`
	ConfigPath        string        `mapstructure:"-"` // not from config file
}

// location returns where the journal is read from. Files win over the
// directory when both are set.
func (c appConfig) location() model.Location {
	if len(c.Files) > 0 {
		return model.Location{Files: c.Files}
	}
	return model.Location{Directory: c.Directory}
}

func (c appConfig) discoverOptions() discover.Options {
	// Validated in loadConfig.
	strategy, _ := discover.ParseStrategy(c.Strategy)
	return discover.Options{Strategy: strategy, Workers: c.DiscoverWorkers}
}

func defaultDBPath(home string) string {
	return filepath.Join(home, ".local", "share", "journald-query", "journald-query.duckdb")
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("directory", model.DefaultJournalDir)
	v.SetDefault("files", []string{})
	v.SetDefault("format", defaultFormat)
	v.SetDefault("strategy", defaultStrategy)
	v.SetDefault("discover-workers", model.DefaultDiscoverWorkers)
	v.SetDefault("poll-interval", model.DefaultPollInterval)
	v.SetDefault("start-offset", model.DefaultStartOffset)
	v.SetDefault("tail-buffer", model.DefaultTailBuffer)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-addr", httpserver.DefaultAddr)
	v.SetDefault("socket-enabled", true)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("via-socket", false)
	v.SetDefault("otlp-endpoint", "")
	v.SetDefault("otlp-batch-size", defaultOTLPBatch)
	v.SetDefault("otlp-flush-interval", defaultOTLPFlush)
	v.SetDefault("otlp-timeout", defaultOTLPTimeout)
	v.SetDefault("db-path", defaultDBPath(home))
	v.SetDefault("insert-batch-size", defaultInsertBatch)
	v.SetDefault("query-timeout", defaultQueryTimeout)
}

// loadConfig layers flags over environment over the config file over
// defaults. flags may be nil.
func loadConfig(configPath string, flags *pflag.FlagSet) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	setDefaults(v, home)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return cfg, fmt.Errorf("binding flags: %w", err)
		}
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigFile(filepath.Join(home, ".config", "journald-query", defaultConfigFileName))
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		cfg.ConfigPath = ""
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}

	// Expand ~ in paths
	cfg.DBPath = expandHome(cfg.DBPath, home)
	cfg.SocketPath = expandHome(cfg.SocketPath, home)
	cfg.Directory = expandHome(cfg.Directory, home)
	for i, f := range cfg.Files {
		cfg.Files[i] = expandHome(f, home)
	}

	return cfg, nil
}

func (c appConfig) validate() error {
	if !validFormat(c.Format) {
		return fmt.Errorf("invalid format: %q (want table, json or yaml)", c.Format)
	}
	if _, err := discover.ParseStrategy(c.Strategy); err != nil {
		return err
	}
	if c.DiscoverWorkers < 1 {
		return fmt.Errorf("invalid discover-workers: %d", c.DiscoverWorkers)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("invalid poll-interval: %s", c.PollInterval)
	}
	if c.StartOffset < 0 {
		return fmt.Errorf("invalid start-offset: %s", c.StartOffset)
	}
	if c.Directory == "" && len(c.Files) == 0 {
		return fmt.Errorf("no journal directory or files configured")
	}
	return nil
}

func expandHome(path, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
