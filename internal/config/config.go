package config

import (
	"os"

	"codeberg.org/mutker/weatherd/internal/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel   = "info"
	DefaultDatabase   = "/var/lib/weatherd/weatherd.db"
	DefaultInterval   = 60
	DefaultResolution = 15
)

type Config struct {
	Database   string `mapstructure:"database"`
	LogLevel   string `mapstructure:"log_level"`
	Interval   int    `mapstructure:"interval"`
	Resolution int    `mapstructure:"resolution"`
	Fixtures   bool   `mapstructure:"fixtures"`
}

// Load reads configuration from /etc/weatherd.toml (or the file named by
// the WEATHERD_CONFIG environment variable), environment, and command-line
// flags. Flags take precedence over the file, the file over defaults.
func Load() (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("resolution", DefaultResolution)
	v.SetDefault("fixtures", false)

	fs := pflag.NewFlagSet("weatherd", pflag.ContinueOnError)
	fs.String("database", DefaultDatabase, "Path to the sqlite database")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")
	fs.Int("interval", DefaultInterval, "Seconds between status reports")
	fs.Int("resolution", DefaultResolution, "Default sampling resolution in minutes")
	fs.Bool("fixtures", false, "Seed demo data when the database is empty")
	fs.ParseErrorsWhitelist.UnknownFlags = true

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	bindings := map[string]string{
		"database":   "database",
		"log_level":  "log-level",
		"interval":   "interval",
		"resolution": "resolution",
		"fixtures":   "fixtures",
	}
	for key, flagName := range bindings {
		if err := v.BindPFlag(key, fs.Lookup(flagName)); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	v.SetEnvPrefix("WEATHERD")
	v.AutomaticEnv()

	if path := os.Getenv("WEATHERD_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	} else {
		v.SetConfigName("weatherd")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errFactory.Wrap(errors.ErrReadConfig, err)
			}
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the loaded configuration for values the daemon cannot
// run with.
func (c *Config) Validate() error {
	errFactory := errors.New()

	switch c.LogLevel {
	case "debug", "info", "warning", "warn", "error":
	default:
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if c.Resolution <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, c.Resolution)
	}

	if c.Database == "" {
		return errFactory.New(errors.ErrMissingConfig)
	}

	return nil
}
