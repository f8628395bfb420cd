package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the run store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// requireStore migrates on open.
		st, err := requireStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("store migrated", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

var storePruneCmd = &cobra.Command{
	Use:   "prune-cache",
	Short: "Delete expired model output from the cache",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := requireStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.DeleteExpiredGenerations(ctx)
		if err != nil {
			return eris.Wrap(err, "prune cache")
		}
		fmt.Fprintf(os.Stdout, "deleted %d expired entries\n", n)
		return nil
	},
}

func init() {
	storeCmd.AddCommand(storeMigrateCmd)
	storeCmd.AddCommand(storePruneCmd)
	rootCmd.AddCommand(storeCmd)
}
