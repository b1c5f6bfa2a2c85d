package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marmos91/hostd/internal/logger"
	"github.com/marmos91/hostd/internal/telemetry"
	"github.com/marmos91/hostd/pkg/config"
	"github.com/marmos91/hostd/pkg/controlplane/api"
	"github.com/marmos91/hostd/pkg/metrics"
	"github.com/marmos91/hostd/pkg/runtime/codeunit"
	"github.com/marmos91/hostd/pkg/runtime/codeunit/builtin"
	"github.com/marmos91/hostd/pkg/runtime/deploy"
	"github.com/marmos91/hostd/pkg/runtime/models"
	"github.com/marmos91/hostd/pkg/runtime/orchestrator"
	"github.com/marmos91/hostd/pkg/runtime/service"
	"github.com/spf13/cobra"

	// Import prometheus metrics to register init() functions
	_ "github.com/marmos91/hostd/pkg/metrics/prometheus"
)

// MetricsServiceType is the host service that exports Prometheus metrics.
const MetricsServiceType = "metrics"

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the hostd daemon",
	Long: `Start the hostd daemon in the foreground.

The daemon locks its state directory, restores registered modules and
services, starts the control plane and auto-starts services. It stops on
SIGINT/SIGTERM or on a stop request from the control plane ('hostctl stop').
Run it under a process supervisor (systemd, launchd, a container runtime)
for background operation.

The key store passphrase is read from the environment variable named by
security.passphrase_env (HOSTD_PASSPHRASE by default).

Examples:
  # Start with the default config
  hostd start

  # Start with a custom config file
  hostd start --config /etc/hostd/config.yaml

  # Override settings from the environment
  HOSTD_LOGGING_LEVEL=DEBUG hostd start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Write the daemon PID to this file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := cfg.ControlPlane.CheckSecrets(); err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetryCfg := telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "hostd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	}
	telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		// ctx is cancelled by now; give the exporter its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingCfg := telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "hostd",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	}
	profilingShutdown, err := telemetry.InitProfiling(profilingCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	} else {
		logger.Info("Profiling disabled")
	}

	// Metrics must be enabled before the orchestrator creates its collectors.
	host := codeunit.NewHostUnit()
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		host.Provide(MetricsServiceType, func() (service.Service, error) {
			return metrics.NewServer(cfg.Metrics.Address, cfg.Metrics.Path), nil
		})
	}

	sec, err := openSecurity(cfg)
	if err != nil {
		return err
	}
	logger.Info("Key store opened", "signers", sec.SignerNames(), "cipher", cfg.Security.Cipher)

	catalog := codeunit.NewCatalog()
	builtin.Register(catalog)

	o, err := orchestrator.Open(ctx, orchestrator.Setup{
		Config:        cfg.Runtime.Orchestrator(),
		StateDir:      cfg.Runtime.StateDir,
		Store:         cfg.Store,
		Security:      sec,
		Catalog:       catalog,
		Host:          host,
		MaxModuleSize: int64(cfg.Runtime.MaxModuleSize),
		Metrics:       metrics.NewRuntimeMetrics(),
	})
	if err != nil {
		return fmt.Errorf("failed to open runtime: %w", err)
	}
	defer func() {
		discarded, err := o.Close()
		if err != nil {
			logger.Error("Runtime close error", logger.KeyError, err)
		}
		if discarded > 0 {
			logger.Warn("Discarded queued requests", logger.KeyCount, discarded)
		}
	}()

	apiServer, err := api.NewServer(cfg.ControlPlane, o)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}
	o.SetListener(apiServer)

	if cfg.Metrics.Enabled {
		logger.Info("Metrics enabled", logger.KeyAddress, cfg.Metrics.Address, "path", cfg.Metrics.Path)
	} else {
		logger.Info("Metrics collection disabled")
	}

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	// Work that goes through the runtime waits for the loop: Run restores
	// persisted registrations first.
	go func() {
		if err := o.WaitForState(ctx, models.ProcessRunning); err != nil {
			return
		}
		afterStartup(ctx, cfg, o)
	}()

	runDone := make(chan error, 1)
	go func() {
		runDone <- o.Run(ctx)
	}()

	logger.Info("Daemon is running. Press Ctrl+C to stop.", logger.KeyAddress, cfg.ControlPlane.Address())

	select {
	case err := <-runDone:
		stop()
		if err != nil {
			logger.Error("Daemon error", logger.KeyError, err)
			return err
		}
		logger.Info("Daemon stopped")
	case <-ctx.Done():
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		select {
		case err := <-runDone:
			if err != nil {
				logger.Error("Daemon shutdown error", logger.KeyError, err)
				return err
			}
			logger.Info("Daemon stopped gracefully")
		case <-time.After(cfg.ShutdownTimeout):
			return fmt.Errorf("shutdown did not complete within %s", cfg.ShutdownTimeout)
		}
	}
	return nil
}

// afterStartup starts the metrics exporter and the deploy watcher once the
// runtime is RUNNING.
func afterStartup(ctx context.Context, cfg *config.Config, o *orchestrator.Orchestrator) {
	if cfg.Metrics.Enabled {
		id := models.ServiceID{Type: MetricsServiceType}
		_, err := o.RegisterService(ctx, id, true)
		if err == nil {
			_, err = o.StartService(ctx, id, true)
		}
		if err != nil {
			logger.Error("Failed to start metrics service", logger.KeyService, id.String(), logger.KeyError, err)
		}
	}

	if cfg.Runtime.DeployDirWatch {
		watcher := deploy.New(cfg.Runtime.DeployDir(), o, deploy.DefaultSettle)
		logger.Info("Watching deploy directory", "dir", watcher.Dir())
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Deploy watcher stopped", logger.KeyError, err)
		}
	}
}
