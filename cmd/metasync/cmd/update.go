package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/sparctools/metasync"
	"github.com/sparctools/metasync/internal/config"
	"github.com/sparctools/metasync/pkg/errors"
)

var updateFlags struct {
	snapshot   string
	force      bool
	forceTypes []string
	resume     bool
	dryRun     bool
}

var updateCmd = &cobra.Command{
	Use:   "update [dataset-id|all]",
	Short: "Reconcile the snapshot against the platform",
	Long: `Reconcile the metadata snapshot against the platform. With a dataset id
only that dataset is processed; with "all" or no argument, every dataset in
the snapshot is.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		opts, err := baseOptions(cfg)
		if err != nil {
			return err
		}

		if len(args) == 1 && args[0] != "all" {
			opts = append(opts, metasync.WithTarget(args[0]))
		}
		opts = append(opts,
			metasync.WithForce(updateFlags.force),
			metasync.WithForceTypes(updateFlags.forceTypes...),
			metasync.WithResume(updateFlags.resume),
			metasync.WithDryRun(updateFlags.dryRun),
		)

		snapshotPath := updateFlags.snapshot
		if snapshotPath == "" {
			snapshotPath = cfg.Snapshot
		}

		started := time.Now()
		res, err := metasync.Update(cmd.Context(), snapshotPath, opts...)
		if err != nil {
			return err
		}
		reportResult(res, time.Since(started))
		if len(res.FailedDatasets()) > 0 {
			return errors.New("some datasets failed, see log")
		}
		return nil
	},
}

func init() {
	updateCmd.Flags().StringVar(&updateFlags.snapshot, "snapshot", "", "path of the snapshot document (default from config)")
	updateCmd.Flags().BoolVar(&updateFlags.force, "force", false, "replace all records regardless of ledger hashes")
	updateCmd.Flags().StringSliceVar(&updateFlags.forceTypes, "force-type", nil, "entity types to replace regardless of their hash")
	updateCmd.Flags().BoolVar(&updateFlags.resume, "resume", false, "skip datasets completed by an interrupted run")
	updateCmd.Flags().BoolVar(&updateFlags.dryRun, "dry-run", false, "report what would change without writing")
}
