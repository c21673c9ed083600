package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-matcher/internal/config"
	"github.com/kozaktomas/face-matcher/internal/database/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Apply the SQL migrations embedded in the binary to PostgreSQL.

Every other command that uses the database applies them automatically;
this command exists for deployments that migrate as a separate step.

Examples:
  face-matcher migrate --dry-run
  face-matcher migrate`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().Bool("dry-run", false, "List pending migrations without applying them")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	dryRun := mustGetBool(cmd, "dry-run")

	cfg := config.Load()
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(&cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()
	pending, err := pool.PendingMigrations(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Println("Database is up to date")
		return nil
	}

	fmt.Printf("Pending migrations: %d\n", len(pending))
	for _, file := range pending {
		fmt.Printf("  %s\n", file)
	}
	if dryRun {
		return nil
	}

	if err := pool.Migrate(ctx); err != nil {
		return err
	}

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Applied migrations: %d\n", len(applied))
	return nil
}
