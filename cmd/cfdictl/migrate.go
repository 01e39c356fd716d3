package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cfdi-descargas/internal/config"
	"cfdi-descargas/internal/repository/sqlite"
)

func migrateCmd() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				dbPath = cfg.Database.Path
			}

			db, err := sqlite.Open(dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := sqlite.RunMigrations(db); err != nil {
				return err
			}
			version, dirty, err := sqlite.SchemaVersion(db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: schema version %d (dirty=%t)\n", dbPath, version, dirty)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "database path (defaults to database.path from config)")

	return cmd
}
