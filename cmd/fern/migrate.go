package main

import (
	"github.com/spf13/cobra"

	"github.com/Ramsey-B/fern/internal/app"
	"github.com/Ramsey-B/fern/pkg/database"
)

func migrateCommand(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations up to DB_MIGRATION_VERSION, or the latest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}

			latest, err := database.LatestVersion(cfg.DatabaseMigrationFolderPath)
			if err != nil {
				return err
			}
			a.Logger.WithContext(ctx).WithField("latest", latest).Info("Applying migrations")
			return a.Migrate(ctx)
		},
	}
}
