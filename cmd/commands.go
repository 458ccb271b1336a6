package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/halvard/transbridge/internal/config"
	"github.com/halvard/transbridge/internal/logging"
	"github.com/halvard/transbridge/internal/rpc"
	"github.com/halvard/transbridge/internal/syncer"
)

// NewServeCommand creates the serve command, the bridge's main mode.
func NewServeCommand(ctx context.Context, cfg *config.Config, manager *syncer.Manager, server *rpc.Server) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the Transmission RPC bridge",
		Long: `Run the bridge: start the background sync loop against qBittorrent
and serve the Transmission RPC endpoint until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx, cfg, manager, server)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, manager *syncer.Manager, server *rpc.Server) error {
	logger := logging.GetLogger()

	if err := manager.Start(ctx, cfg.Sync.StartupTimeout); err != nil {
		return fmt.Errorf("failed to start sync manager: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-errChan:
		manager.Stop()
		return fmt.Errorf("rpc server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("RPC server shutdown was not clean")
	}
	manager.Stop()
	return nil
}

// NewVersionCommand creates the version command.
func NewVersionCommand(version, buildTime, gitCommit string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("transbridge %s (built: %s, commit: %s)\n", version, buildTime, gitCommit)
		},
	}
}
