package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete <identity-id>",
	Short: "Delete an identity and all of its embeddings",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	strategy, err := configuredStrategy(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, store, err := openPostgresStore(ctx, cfg, strategy)
	if err != nil {
		return err
	}
	defer pool.Close()

	ids, err := newFlow(cfg, store, nil).Delete(ctx, args[0])
	if err != nil {
		return err
	}

	persistIndex(ctx, store)
	fmt.Printf("Deleted identity %s (%d embeddings)\n", args[0], len(ids))
	return nil
}
