package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrEthical07/openidstore"
	"github.com/spf13/cobra"
)

func init() {
	nonceCmd.AddCommand(nonceMakeCmd)
	nonceCmd.AddCommand(nonceCheckCmd)
	rootCmd.AddCommand(nonceCmd)
}

var nonceCmd = &cobra.Command{
	Use:   "nonce",
	Short: "Create and check response nonces",
}

var nonceMakeCmd = &cobra.Command{
	Use:   "make",
	Short: "Print a fresh nonce for the current time",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		nonce, err := openidstore.MakeNonce(time.Now())
		if err != nil {
			slog.Error("Failed to make nonce", "error", err)
			os.Exit(1)
		}
		fmt.Fprintln(cmd.OutOrStdout(), nonce)
	},
}

var nonceCheckCmd = &cobra.Command{
	Use:   "check <server-url> <nonce>",
	Short: "Record a nonce and report whether it was accepted",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		store, closeStore := mustOpenStore(ctx, "nonce check", true)
		defer closeStore()

		accepted, err := store.UseNonceString(ctx, args[0], args[1])
		if err != nil {
			slog.Error("Nonce check failed", "server_url", args[0], "error", err)
			closeStore()
			os.Exit(1)
		}
		if accepted {
			fmt.Fprintln(cmd.OutOrStdout(), "accepted")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), "rejected")
		closeStore()
		os.Exit(2)
	},
}
