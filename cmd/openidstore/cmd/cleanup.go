package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired associations and out-of-window nonces once",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, closeStore := mustOpenStore(ctx, "cleanup", true)
		defer closeStore()

		result, err := store.Cleanup(ctx)
		if err != nil {
			slog.Error("Cleanup failed", "run_id", result.RunID, "associations", result.Associations, "nonces", result.Nonces, "error", err)
			closeStore()
			os.Exit(1)
		}
		slog.Info("Cleanup finished", "run_id", result.RunID, "associations", result.Associations, "nonces", result.Nonces)
	},
}
