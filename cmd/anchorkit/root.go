package main

import (
	"github.com/sensiblebit/anchorkit/internal"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "anchorkit",
	Short: "Trust anchor header generator",
	Long:  "Download TLS certificate chains or convert local PEM files, resolve them to root certificates, and emit C headers for embedded TLS clients.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetupLogger(logLevel, logJSON)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit logs as JSON instead of text")
	registerCompletion(rootCmd, "log-level", fixedCompletion("debug", "info", "warn", "error"))

	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(catalogCmd)
}
