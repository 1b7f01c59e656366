package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/openstratus/stratus/pkg/api"
	"github.com/openstratus/stratus/pkg/config"
	"github.com/openstratus/stratus/pkg/executor"
	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/providers"
	"github.com/openstratus/stratus/pkg/providers/huaweicloud"
	"github.com/openstratus/stratus/pkg/providers/openstack"
	"github.com/openstratus/stratus/pkg/stores"
	"github.com/openstratus/stratus/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration API server",
		Long: `Starts the Stratus orchestration engine: opens the order ledger,
registers the configured cloud provider plugins and serves the
lifecycle API until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), watch)
		},
	}

	cmd.Flags().BoolVar(&watch, "watch-config", false, "reload the config file on change")

	return cmd
}

func runServe(ctx context.Context, watch bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	telCfg := telemetry.DefaultConfig()
	telCfg.Logging.Level = cfg.Telemetry.Logging.Level
	telCfg.Logging.Format = cfg.Telemetry.Logging.Format
	telCfg.Logging.Output = cfg.Telemetry.Logging.Output
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	telCfg.Metrics.Enabled = cfg.Telemetry.Metrics.Enabled
	telCfg.Metrics.ListenAddress = cfg.Telemetry.Metrics.ListenAddress
	telCfg.Metrics.Path = cfg.Telemetry.Metrics.Path
	telCfg.Tracing.Enabled = cfg.Telemetry.Tracing.Enabled
	telCfg.Tracing.Exporter = cfg.Telemetry.Tracing.Exporter
	telCfg.Tracing.Endpoint = cfg.Telemetry.Tracing.Endpoint
	telCfg.Tracing.SamplingRate = cfg.Telemetry.Tracing.SamplingRate
	telCfg.Tracing.Insecure = cfg.Telemetry.Tracing.Insecure

	tel, err := telemetry.NewTelemetry(telCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	logger := tel.Logger
	metrics := tel.Metrics
	log := logger.NewComponentLogger("serve")
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("telemetry shutdown failed")
		}
	}()

	// Failed orders and power actions surface in the serve log even when
	// the emitting component logged them at debug.
	eventLog := logger.NewComponentLogger("events")
	tel.Events.Subscribe(func(ev telemetry.Event) {
		eventLog.WithServiceID(ev.ServiceID).WithOrderID(ev.OrderID).Warn(ev.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to create ledger store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open ledger database: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate ledger database: %w", err)
	}

	registry := buildRegistry(cfg, logger)

	engine := orchestrator.NewEngine(orchestrator.EngineConfig{
		Store:           store,
		Registry:        registry,
		Logger:          logger,
		Metrics:         metrics,
		Tracer:          tel.Tracer,
		Events:          tel.Events,
		Workers:         cfg.Engine.Workers,
		PollInterval:    cfg.Engine.PollInterval,
		CallbackBaseURL: cfg.Executor.CallbackBaseURL,
	})
	defer engine.Shutdown()

	server := api.NewServer(api.Config{
		ListenAddress:   cfg.Server.ListenAddress,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		LongPollMaxWait: cfg.Engine.LongPollMaxWait,
	}, engine, logger, metrics)

	if cfg.Telemetry.Metrics.Enabled {
		if err := tel.StartMetricsServer(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if watch && configPath != "" {
		// Log level and lock-step tunables apply on reload; components
		// holding connections keep their settings until restart.
		var reloads atomic.Int64
		watcher, err := config.NewWatcher(configPath, logger, func(next *config.Config) {
			reloads.Add(1)
			log.WithField("reloads", reloads.Load()).
				Info("configuration change detected, restart to apply connection settings")
		})
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("config watcher stopped")
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	return server.Shutdown(context.Background())
}

// buildRegistry registers a plugin pair for every configured cloud. The
// IaC executor is shared; power-state clients are per cloud.
func buildRegistry(cfg *config.Config, logger *telemetry.Logger) *providers.Registry {
	registry := providers.NewRegistry()

	executorClient := executor.NewClient(executor.Config{
		BaseURL:         cfg.Executor.BaseURL,
		CallbackBaseURL: cfg.Executor.CallbackBaseURL,
		Timeout:         cfg.Executor.Timeout,
		RetryCount:      cfg.Executor.RetryCount,
		AuthToken:       cfg.Executor.AuthToken,
	}, logger)

	if hc := cfg.Providers.HuaweiCloud; hc != nil {
		registry.RegisterDeployer(orchestrator.CspHuaweiCloud, executorClient)
		registry.RegisterPowerState(orchestrator.CspHuaweiCloud, huaweicloud.NewPowerClient(huaweicloud.Config{
			Endpoint:        hc.Endpoint,
			AuthToken:       hc.AuthToken,
			Timeout:         hc.Timeout,
			PollInterval:    hc.PollInterval,
			MaxPollAttempts: hc.MaxPollAttempts,
		}, logger))
	}

	if os := cfg.Providers.Openstack; os != nil {
		registry.RegisterDeployer(orchestrator.CspOpenstack, executorClient)
		registry.RegisterPowerState(orchestrator.CspOpenstack, openstack.NewPowerClient(openstack.Config{
			Endpoint:  os.Endpoint,
			AuthToken: os.AuthToken,
			Timeout:   os.Timeout,
		}, logger))
	}

	return registry
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}
