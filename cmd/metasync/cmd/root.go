// Package cmd implements the metasync command line interface.
package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/sparctools/metasync"
	"github.com/sparctools/metasync/internal/config"
	"github.com/sparctools/metasync/internal/enrich"
	apiplatform "github.com/sparctools/metasync/internal/platform"
	"github.com/sparctools/metasync/pkg/logging"
	"github.com/sparctools/metasync/pkg/sync"
)

var rootCmd = &cobra.Command{
	Use:   "metasync",
	Short: "Synchronize dataset metadata with the curation platform",
	Long: `metasync reconciles a graph-projected metadata snapshot against the
remote curation platform. Work is gated by content hashes so unchanged
datasets cost nothing, and interrupted runs can resume where they left off.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(clearCmd)
}

// Execute runs the CLI with the given base context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// baseOptions builds the engine options shared by every command from the
// loaded configuration.
func baseOptions(cfg *config.Config) ([]metasync.Option, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := apiplatform.New(apiplatform.Config{
		Host:    cfg.APIHost,
		Token:   cfg.APIToken,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	opts := []metasync.Option{
		metasync.WithClient(client),
		metasync.WithBatchSize(cfg.BatchSize),
		metasync.WithProgressFile(cfg.ProgressFile),
		metasync.WithLedgerDataset(cfg.LedgerDataset),
		metasync.WithDefaultTag(cfg.DefaultTag),
	}
	if cfg.GrantHost != "" {
		awards, err := enrich.New(cfg.GrantHost, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		opts = append(opts, metasync.WithEnricher(awards))
	}
	return opts, nil
}

func reportResult(res *sync.Result, took time.Duration) {
	changed := 0
	for i := range res.Datasets {
		if res.Datasets[i].Changed() {
			changed++
		}
	}
	logging.Info().
		Str("run", res.RunID).
		Int("datasets", len(res.Datasets)).
		Int("changed", changed).
		Strs("failed", res.FailedDatasets()).
		Dur("took", took).
		Msg("update complete")
}
