/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"log/slog"
	"os"

	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "authgate",
	Short: "Account registration, login and session gating service",
	Long: `authgate registers accounts, signs users in with a session token and
guards routes by role. Usage:

	authgate server
	authgate migrate up
	authgate seed-admin
	authgate events tail
`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger and installs it as the slog default so
// library output shares the configured format and level.
func newLogger(cfg config.Config) *logging.SlogLogger {
	l := logging.New(os.Stderr, cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(l.Slog())
	return l
}
