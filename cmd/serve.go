package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/pixelmatch/internal/server"
	"github.com/cwbudde/pixelmatch/internal/store"
)

var (
	serveAddr     string
	serveDataDir  string
	maxConcurrent int
	serveWorkers  int
	serveRoot     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the comparison HTTP server",
	Long: `Starts an HTTP API for image comparison. Jobs compare server-local files
in the background; POST /api/v1/compare compares uploaded images synchronously.
Finished jobs are saved as reports under --data-dir. With --root, job paths
must lie inside that directory.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "./data", "Base directory for reports")
	serveCmd.Flags().IntVar(&maxConcurrent, "max-concurrent", 0, "Comparisons running at once (0 = all CPUs)")
	serveCmd.Flags().IntVar(&serveWorkers, "workers", 1, "Goroutines per comparison (0 = all CPUs)")
	serveCmd.Flags().StringVar(&serveRoot, "root", "", "Only allow job images inside this directory")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(serveDataDir)
	if err != nil {
		return fmt.Errorf("failed to create report store: %w", err)
	}

	srv := server.NewServer(server.Config{
		Addr:          serveAddr,
		Store:         st,
		MaxConcurrent: maxConcurrent,
		Workers:       serveWorkers,
		Root:          serveRoot,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Signal received, shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
