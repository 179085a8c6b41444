package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/openidstore"
	"github.com/MrEthical07/openidstore/metrics/export/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	sweepCmd.Flags().Duration("interval", 5*time.Minute, "time between cleanup runs")
	sweepCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	_ = viper.BindPFlag("sweep_interval", sweepCmd.Flags().Lookup("interval"))
	_ = viper.BindPFlag("metrics_addr", sweepCmd.Flags().Lookup("metrics-addr"))
	rootCmd.AddCommand(sweepCmd)
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run cleanup periodically until interrupted",
	Run: func(cmd *cobra.Command, args []string) {
		interval := viper.GetDuration("sweep_interval")
		if interval <= 0 {
			slog.Error("Sweep interval must be positive", "interval", interval)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, closeStore := mustOpenStore(ctx, "sweep", false)
		defer closeStore()

		var server *http.Server
		if addr := viper.GetString("metrics_addr"); addr != "" {
			server = serveMetrics(addr, store)
		}

		slog.Info("Sweeping", "interval", interval)
		sweep(ctx, store, interval)

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Metrics server shutdown", "error", err)
			}
		}
		slog.Info("Sweep stopped")
	},
}

// sweep runs Cleanup immediately and then on every tick until ctx is done.
func sweep(ctx context.Context, store *openidstore.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		result, err := store.Cleanup(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("Cleanup failed", "run_id", result.RunID, "error", err)
		} else {
			slog.Debug("Cleanup finished", "run_id", result.RunID, "associations", result.Associations, "nonces", result.Nonces)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func serveMetrics(addr string, store *openidstore.Store) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prometheus.NewPrometheusExporter(store).Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Serving metrics", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "error", err)
		}
	}()
	return server
}
