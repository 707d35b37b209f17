package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"voting-ledger/config"
	"voting-ledger/logging"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	log zerolog.Logger
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "ledgerd",
	Short:         "vote integrity ledger and eligibility engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(flagConfig)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("log-level") {
			c.LogLevel = flagLogLevel
		}
		if cmd.Flags().Changed("log-format") {
			c.LogFormat = flagLogFormat
		}

		cfg = c
		log = logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "yaml config file")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "json", "log format, json or console")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("Error:", err.Error())
		os.Exit(1)
	}
}
