package main

import (
	"github.com/spf13/cobra"

	"voting-ledger/registry"
)

var importCmd = &cobra.Command{
	Use:   "import-voters <roll file>",
	Short: "register voters from a JSON or YAML roll",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roll, err := registry.LoadFileRegistry(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.voters.ImportRoll(cmd.Context(), roll, flagImportedBy)
		if err != nil {
			return err
		}

		cmd.Printf("imported %d voters, skipped %d\n", result.Imported, result.Skipped)
		return nil
	},
}

var flagImportedBy string

func init() {
	importCmd.Flags().StringVar(&flagImportedBy, "actor", "cli", "actor id recorded in the audit log")

	rootCmd.AddCommand(importCmd)
}
