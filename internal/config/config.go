// Package config loads expenseq configuration from file, environment and
// defaults.
//
// Lookup order: explicit --config path, then $EXPENSEQ_* environment
// overrides, then config.yaml in ~/.config/expenseq or the current
// directory, then built-in defaults. Nothing is required: a bare install
// works offline with local defaults until a sync needs api.base_url and
// api.token.
package config

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the resolved expenseq configuration.
type Config struct {
	DBPath   string `mapstructure:"db_path"`
	SpoolDir string `mapstructure:"spool_dir"`

	API struct {
		BaseURL string        `mapstructure:"base_url"`
		Token   string        `mapstructure:"token"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"api"`

	Daemon struct {
		SyncInterval time.Duration `mapstructure:"sync_interval"`
		Debounce     time.Duration `mapstructure:"debounce"`
	} `mapstructure:"daemon"`

	Dashboard struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"dashboard"`

	Log struct {
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"log"`
}

// Load reads configuration, optionally from an explicit file path.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	dataDir := defaultDataDir()
	v.SetDefault("db_path", filepath.Join(dataDir, "expenseq.db"))
	v.SetDefault("spool_dir", filepath.Join(dataDir, "spool"))
	v.SetDefault("api.base_url", "")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 12*time.Second)
	v.SetDefault("daemon.sync_interval", 5*time.Minute)
	v.SetDefault("daemon.debounce", 200*time.Millisecond)
	v.SetDefault("dashboard.port", 8390)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetEnvPrefix("EXPENSEQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "expenseq"))
		}
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			// Missing config file is fine; anything else is not.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}

// NewLogger builds a prefixed logger. With log.file set, output goes through
// a rotating file; otherwise it goes to stderr.
func (c *Config) NewLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if c.Log.File != "" {
		out = &lumberjack.Logger{
			Filename:   c.Log.File,
			MaxSize:    c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAge:     c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}

// defaultDataDir returns the per-user data directory for expenseq.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".expenseq"
	}
	return filepath.Join(home, ".expenseq")
}
