package main

import (
	"errors"

	"github.com/spf13/cobra"

	"captionforge/internal/models"
	"captionforge/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := models.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return errors.New("migrate: database_url is not set")
		}
		return storage.MigrateDSN(cfg.DatabaseURL)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
