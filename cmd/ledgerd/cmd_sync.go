package main

import (
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "run one offline vote reconciliation pass",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if flagRequeueFailed {
			requeued, err := a.voting.RequeueFailedVotes(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("requeued %d failed votes\n", requeued)
		}

		synced, err := a.voting.SyncOfflineVotes(cmd.Context())
		if err != nil {
			return err
		}

		cmd.Printf("synced %d votes\n", synced)
		return nil
	},
}

var flagRequeueFailed bool

func init() {
	syncCmd.Flags().BoolVar(&flagRequeueFailed, "requeue-failed", false, "move failed votes back to pending first")

	rootCmd.AddCommand(syncCmd)
}
