package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/nfsd/internal/logger"
	"github.com/marmos91/nfsd/pkg/config"
	"github.com/marmos91/nfsd/pkg/server"
)

var (
	logLevel string
	port     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the NFS server",
	Long: `Start the NFS server in the foreground with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/nfsd/config.yaml. Without any file
nfsd exports one in-memory share named "export".

Examples:
  # Start with the default configuration
  nfsd serve

  # Start with a custom config file on another port
  nfsd serve --config /etc/nfsd/config.yaml --port 12049

  # Start with environment variable overrides
  NFSD_LOGGING_LEVEL=DEBUG NFSD_PORTMAP_ENABLED=true nfsd serve`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG, INFO, WARN, ERROR); overrides the config file")
	cmd.Flags().IntVar(&port, "port", 0, "Port for NFS and MOUNT; overrides the config file")
}

// loadConfig loads the configuration and applies the command-line
// overrides, which take precedence over the file and the environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = strings.ToUpper(logLevel)
	}
	if cmd.Flags().Changed("port") {
		cfg.NFS.Port = port
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid command-line override: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if err := logger.Configure(cfg.Logging.Logger()); err != nil {
		return fmt.Errorf("failed to configure logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("nfsd %s starting", Version)
	logger.Info("Configuration loaded from %s", configSource())

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on %s", cfg.Metrics.Address)
	}

	shares, err := config.InitializeShares(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize shares: %w", err)
	}

	services, err := config.CreateServices(cfg, shares, metricsResult)
	if err != nil {
		_ = shares.Close()
		return fmt.Errorf("failed to create services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := services.Close(closeCtx); err != nil {
			logger.Error("Error closing shares: %v", err)
		}
	}()

	srv := server.New(server.Options{
		Portmap:         services.Portmap,
		Metrics:         metricsResult.Server,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	for _, a := range services.Adapters {
		if err := srv.AddAdapter(a); err != nil {
			return err
		}
	}

	for _, d := range shares.Registry.List() {
		logger.Info("Exporting /%s (id=%08x)", d.Name, d.ID)
	}

	return srv.Serve(ctx)
}

func configSource() string {
	if path := GetConfigFile(); path != "" {
		return path
	}
	if config.ConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults (no config file found)"
}
