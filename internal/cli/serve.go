package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pipeweld/internal/server"
)

var (
	serveAddr    string
	serveWorkDir string
	serveRunsDir string
	serveJournal string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&serveWorkDir, "workdir", "", "working directory for runs (default: cwd)")
	serveCmd.Flags().StringVar(&serveRunsDir, "runs-dir", "./runs", "root directory for run logs and reports")
	serveCmd.Flags().StringVar(&serveJournal, "journal", "", "append stage records to this journal file")
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := newLogger()
	srv := server.New(serveWorkDir, serveRunsDir, serveJournal, logger)

	httpSrv := &http.Server{
		Addr:              serveAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	logger.Info("server listening", "addr", serveAddr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
