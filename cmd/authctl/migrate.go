package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/mpnag/discipline/internal/config"
	"github.com/mpnag/discipline/migrations"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect the embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(func(db *sql.DB) error {
				return goose.UpContext(commandContext(cmd), db, ".")
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(func(db *sql.DB) error {
				return goose.DownContext(commandContext(cmd), db, ".")
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the state of every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(func(db *sql.DB) error {
				return goose.StatusContext(commandContext(cmd), db, ".")
			})
		},
	})
	return cmd
}

func withMigrationDB(fn func(db *sql.DB) error) error {
	cfg, err := config.LoadTooling()
	if err != nil {
		return err
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return fn(db)
}
