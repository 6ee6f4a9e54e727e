package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"neuralvault/graphcore/internal/db"
	"neuralvault/graphcore/internal/wire"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the graph authority on the configured socket",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := OpenDatabase()
		if err != nil {
			return err
		}
		defer d.Close()

		ln, err := wire.Listen(cfg.SocketNetwork, cfg.SocketAddress)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "[serve] %s listening on %s://%s\n", d.Path, cfg.SocketNetwork, cfg.SocketAddress)

		srv := wire.NewServer(db.NewHandler(d, logger), logger)
		if err := srv.Serve(cmd.Context(), ln); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintln(os.Stderr, "[serve] stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// serveMetrics exposes reg on addr until ctx ends.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
