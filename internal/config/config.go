// Package config loads runtime configuration from a config file,
// environment variables, and an optional .env file. Environment variables
// use the METASYNC_ prefix and override file values.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/sparctools/metasync/pkg/errors"
	"github.com/sparctools/metasync/pkg/logging"
)

// Config holds everything the CLI needs to construct an engine.
type Config struct {
	// APIHost is the base URL of the curation platform API.
	APIHost string `mapstructure:"api_host"`

	// APIToken authenticates against the platform.
	APIToken string `mapstructure:"api_token"`

	// GrantHost is the base URL of the federal grant registry used for
	// award enrichment. Empty disables enrichment.
	GrantHost string `mapstructure:"grant_host"`

	// Snapshot is the path of the snapshot JSON document.
	Snapshot string `mapstructure:"snapshot"`

	// ProgressFile is the path of the local resume ledger.
	ProgressFile string `mapstructure:"progress_file"`

	// LedgerDataset is the tracking dataset holding sync ledger records.
	LedgerDataset string `mapstructure:"ledger_dataset"`

	// DefaultTag is applied to datasets whose snapshot has no tags.
	DefaultTag string `mapstructure:"default_tag"`

	// BatchSize caps records per bulk create call.
	BatchSize int `mapstructure:"batch_size"`

	// Timeout bounds each remote call.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Load reads configuration. A .env file in the working directory is loaded
// first when present, then metasync.yaml from the working directory or
// ~/.metasync, then METASYNC_* environment variables on top.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logging.Debug().Msg("loaded .env file")
	}

	v := viper.New()
	v.SetConfigName("metasync")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.metasync")

	v.SetEnvPrefix("METASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("api_host", "https://api.pennsieve.io")
	v.SetDefault("snapshot", "snapshot.json")
	v.SetDefault("progress_file", "metasync-progress.json")
	v.SetDefault("ledger_dataset", "sync-tracking")
	v.SetDefault("default_tag", "SPARC")
	v.SetDefault("batch_size", 100)
	v.SetDefault("timeout", "30s")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.WrapIO("read", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &errors.ValidationError{Field: "config", Message: err.Error()}
	}
	return &cfg, nil
}

// Validate checks the fields required for talking to the platform.
func (c *Config) Validate() error {
	if c.APIHost == "" {
		return &errors.ValidationError{Field: "api_host", Message: "platform API host is required"}
	}
	if c.APIToken == "" {
		return &errors.ValidationError{Field: "api_token", Message: "set METASYNC_API_TOKEN or api_token"}
	}
	return nil
}
