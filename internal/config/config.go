// Package config loads the monitoring database manager's settings from
// defaults, an optional YAML file, and command-line flags, in that order of
// increasing precedence.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every constructor input listed in spec.md §6.
type Config struct {
	DBURL    string `yaml:"db_url"`
	LogDir   string `yaml:"logdir"`
	LogLevel string `yaml:"logging_level"`
	OpsAddr  string `yaml:"ops_addr"`

	// BatchIntervalSeconds is the on-disk/flag representation (seconds, as
	// in spec.md §6); BatchInterval is the parsed time.Duration the rest of
	// the program uses.
	BatchIntervalSeconds float64       `yaml:"batching_interval"`
	BatchInterval        time.Duration `yaml:"-"`
	BatchThreshold       int           `yaml:"batching_threshold"`

	// ConfigPath is the file Load read from, if any. Empty when no file was
	// found and defaults/flags were used as-is.
	ConfigPath string `yaml:"-"`
}

const (
	defaultDBURL                = "sqlite://monitoring.db"
	defaultLogDir               = "monitoring_logs"
	defaultLogLevel             = "INFO"
	defaultBatchIntervalSeconds = 1.0
	defaultBatchThreshold       = 99999
)

var defaultBatchInterval = time.Duration(defaultBatchIntervalSeconds * float64(time.Second))

// Load builds a Config from defaults, then an optional YAML file named by
// -config (if it exists), then flags. Flags always win so a deployment can
// override the on-disk file without editing it.
func Load(args []string) (*Config, error) {
	cfg := &Config{
		DBURL:                defaultDBURL,
		LogDir:               defaultLogDir,
		LogLevel:             defaultLogLevel,
		BatchIntervalSeconds: defaultBatchIntervalSeconds,
		BatchThreshold:       defaultBatchThreshold,
	}

	fs := flag.NewFlagSet("monitordb", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	dbURL := fs.String("db-url", "", "store connection string, e.g. sqlite://monitoring.db or postgres://...")
	logDir := fs.String("logdir", "", "directory for log output")
	logLevel := fs.String("logging-level", "", "log level: DEBUG, INFO, WARN, ERROR")
	batchInterval := fs.Float64("batching-interval", 0, "seconds the batcher accumulates before flushing")
	batchThreshold := fs.Int("batching-threshold", 0, "maximum batch size")
	opsAddr := fs.String("ops-addr", "", "optional host:port for the heartbeat websocket")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *configPath != "" {
		if err := cfg.loadFromFile(*configPath); err != nil {
			return nil, fmt.Errorf("failed to load config file %q: %w", *configPath, err)
		}
		if _, err := os.Stat(*configPath); err == nil {
			cfg.ConfigPath = *configPath
		}
	}

	if *dbURL != "" {
		cfg.DBURL = *dbURL
	}
	if *logDir != "" {
		cfg.LogDir = *logDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *batchInterval > 0 {
		cfg.BatchIntervalSeconds = *batchInterval
	}
	if *batchThreshold > 0 {
		cfg.BatchThreshold = *batchThreshold
	}
	if *opsAddr != "" {
		cfg.OpsAddr = *opsAddr
	}

	if strings.TrimSpace(cfg.DBURL) == "" {
		return nil, fmt.Errorf("db_url must not be empty")
	}
	if cfg.BatchThreshold <= 0 {
		return nil, fmt.Errorf("batching_threshold must be positive, got %d", cfg.BatchThreshold)
	}
	if cfg.BatchIntervalSeconds <= 0 {
		return nil, fmt.Errorf("batching_interval must be positive, got %f", cfg.BatchIntervalSeconds)
	}
	cfg.BatchInterval = time.Duration(cfg.BatchIntervalSeconds * float64(time.Second))

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", cfg.LogDir, err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}
