package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"voting-ledger/storage"
)

var validateCmd = &cobra.Command{
	Use:   "validate-ledger",
	Short: "verify the hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		status, err := a.voting.ValidateLedger(cmd.Context())
		if err != nil {
			return err
		}

		if !status.Valid {
			return errors.Errorf("ledger is invalid at height %d: %s", status.Height, status.Error)
		}

		cmd.Printf("ledger valid: %d blocks, tail %s\n", status.Height, status.TailHash)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export-ledger",
	Short: "write a JSON snapshot of the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		dir := flagExportDir
		if dir == "" {
			dir = cfg.SnapshotDir()
		}

		snapshots, err := storage.NewSnapshotStorage(dir, cfg.SnapshotKeep)
		if err != nil {
			return err
		}
		snapshots.SetLogger(log)

		blocks, err := a.ledger.Blocks(cmd.Context(), 0, 0)
		if err != nil {
			return err
		}

		path, err := snapshots.Save(blocks, a.ledger.ValidateChain(cmd.Context()))
		if err != nil {
			return err
		}

		cmd.Printf("exported %d blocks to %s\n", len(blocks), path)
		return nil
	},
}

var flagExportDir string

func init() {
	exportCmd.Flags().StringVar(&flagExportDir, "dir", "", "snapshot directory; defaults to <data_dir>/snapshots")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(exportCmd)
}
