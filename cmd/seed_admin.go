/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/authgate/apiserver/config"
	"github.com/authgate/apiserver/internal/server"
	"github.com/spf13/cobra"
)

var seedAdminCmd = &cobra.Command{
	Use:   "seed-admin",
	Short: "Create the default administrator if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		log := newLogger(cfg)
		ctx := cmd.Context()

		components, err := server.Open(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = components.Close() }()

		created, err := components.SeedAdmin(ctx, cfg.Admin)
		if err != nil {
			return err
		}
		if !created {
			log.Info(ctx, "default admin already present", "email", cfg.Admin.Email)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedAdminCmd)
}
