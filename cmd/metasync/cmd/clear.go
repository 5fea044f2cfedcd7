package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sparctools/metasync"
	"github.com/sparctools/metasync/internal/config"
	"github.com/sparctools/metasync/pkg/logging"
)

var clearCmd = &cobra.Command{
	Use:   "clear <dataset-id>",
	Short: "Remove all synced metadata from a dataset",
	Long: `Remove every synced model, with all its records, from a dataset and
drop the dataset's ledger entry. The next update rebuilds the dataset from
the snapshot alone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		opts, err := baseOptions(cfg)
		if err != nil {
			return err
		}
		if err := metasync.Clear(cmd.Context(), args[0], opts...); err != nil {
			return err
		}
		logging.Info().Str("dataset", args[0]).Msg("cleared")
		return nil
	},
}
