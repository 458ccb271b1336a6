package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/halvard/transbridge/cmd"
	"github.com/halvard/transbridge/internal/config"
	"github.com/halvard/transbridge/internal/logging"
	"github.com/halvard/transbridge/internal/qbittorrent"
	"github.com/halvard/transbridge/internal/rpc"
	"github.com/halvard/transbridge/internal/syncer"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// AppServices holds all initialized services
type AppServices struct {
	Config      *config.Config
	Logger      *logging.Logger
	QBClient    *qbittorrent.Client
	SyncManager *syncer.Manager
	DetailCache *syncer.DetailCache
	RPCServer   *rpc.Server
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	services, err := initializeServices()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize services: %v\n", err)
		os.Exit(1)
	}

	rootCmd := createRootCommand(ctx, services)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "command failed: %v\n", err)
		cleanup(services)
		os.Exit(1)
	}

	cleanup(services)
}

// createRootCommand creates the main Cobra root command
func createRootCommand(ctx context.Context, services *AppServices) *cobra.Command {
	var verbosity int

	serveCmd := cmd.NewServeCommand(ctx, services.Config, services.SyncManager, services.RPCServer)

	rootCmd := &cobra.Command{
		Use:   "transbridge",
		Short: "Transmission RPC bridge for qBittorrent",
		Long: `transbridge exposes a Transmission-RPC-compatible endpoint backed by a
qBittorrent instance, so Transmission clients (Transmission Remote GUI,
Sonarr, Radarr, transmission-remote) can drive qBittorrent unchanged.

Examples:
  transbridge serve                 # run the bridge
  transbridge serve -v              # info-level logs
  transbridge serve -vv             # debug-level logs`,
		Version: fmt.Sprintf("%s (built: %s, commit: %s)", version, buildTime, gitCommit),
		RunE: func(c *cobra.Command, args []string) error {
			// Default action: serve.
			return serveCmd.RunE(c, args)
		},
		PersistentPreRunE: func(c *cobra.Command, args []string) error {
			if verbosity > 0 {
				return logging.SetLogLevel(logging.LevelForVerbosity(verbosity))
			}
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug, -vvv trace)")

	rootCmd.AddCommand(
		serveCmd,
		cmd.NewVersionCommand(version, buildTime, gitCommit),
	)

	return rootCmd
}

// initializeServices initializes all application services
func initializeServices() (*AppServices, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.Initialize(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	qbClient, err := qbittorrent.NewClient(
		cfg.QBittorrent.URL,
		cfg.QBittorrent.Username,
		cfg.QBittorrent.Password,
		qbittorrent.WithTimeout(cfg.QBittorrent.RequestTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create qBittorrent client: %w", err)
	}

	syncManager := syncer.NewManager(qbClient, cfg.Sync.PollInterval, cfg.Sync.ErrorBackoff)
	detailCache := syncer.NewDetailCache(qbClient, cfg.Cache.DetailTTL, cfg.Cache.CleanupInterval)
	rpcServer := rpc.NewServer(&cfg.Bridge, syncManager, detailCache, qbClient)

	return &AppServices{
		Config:      cfg,
		Logger:      logger,
		QBClient:    qbClient,
		SyncManager: syncManager,
		DetailCache: detailCache,
		RPCServer:   rpcServer,
	}, nil
}

// cleanup gracefully shuts down all services
func cleanup(services *AppServices) {
	if services == nil {
		return
	}

	mainLogger := logging.GetLogger()

	if services.SyncManager != nil {
		services.SyncManager.Stop()
	}

	if services.QBClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := services.QBClient.Logout(ctx); err != nil {
			mainLogger.WithError(err).Warn("Failed to log out from qBittorrent")
		}
	}

	logging.Shutdown()
}
