package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/promptgate/enhance-gateway/internal/database"
	"github.com/promptgate/enhance-gateway/internal/database/migrations"
)

var migrateEnvFile string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage database migrations (PostgreSQL and MySQL)",
	Long: `Apply or roll back schema migrations. SQLite deployments do not use
migrations; the schema is created automatically on startup.`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE:  func(cmd *cobra.Command, args []string) error { return withRunner(func(r *migrations.Runner) error { return r.Up() }) },
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE:  func(cmd *cobra.Command, args []string) error { return withRunner(func(r *migrations.Runner) error { return r.Down() }) },
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current migration version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRunner(func(r *migrations.Runner) error {
			version, err := r.Status()
			if err != nil {
				return err
			}
			fmt.Printf("Current migration version: %d\n", version)
			return nil
		})
	},
}

func init() {
	migrateCmd.PersistentFlags().StringVar(&migrateEnvFile, "env", ".env", "Path to .env file")
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

// withRunner opens the configured database and hands a migration runner to fn.
func withRunner(fn func(*migrations.Runner) error) error {
	if _, err := os.Stat(migrateEnvFile); err == nil {
		if err := godotenv.Load(migrateEnvFile); err != nil {
			log.Printf("Warning: Error loading %s file: %v", migrateEnvFile, err)
		}
	}

	dbConfig := database.ConfigFromEnv()
	if dbConfig.Driver == database.DriverSQLite {
		return fmt.Errorf("sqlite does not use migrations; the schema is created on startup")
	}

	migrationsPath, err := database.MigrationsPathForDriver(dbConfig.Driver)
	if err != nil {
		return err
	}

	db, err := database.NewFromConfig(dbConfig)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	return fn(migrations.NewRunner(db.SQLDB(), migrationsPath, string(dbConfig.Driver)))
}
