package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goodtune/chronos/internal/admin"
	"github.com/goodtune/chronos/internal/bridge"
	"github.com/goodtune/chronos/internal/config"
	"github.com/goodtune/chronos/internal/engine"
	"github.com/goodtune/chronos/internal/events"
	"github.com/goodtune/chronos/internal/metrics"
	"github.com/goodtune/chronos/internal/permission"
	"github.com/goodtune/chronos/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start Chronos server",
	Long:  `Start the Chronos engine with the admin API and metrics endpoints.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting Chronos")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	authz, err := newAuthorization(cfg.Permissions, logger)
	if err != nil {
		return err
	}

	loc, err := cfg.Replenish.Location()
	if err != nil {
		return err
	}

	presence := bridge.NewPresence(cfg.Bridge.WorkingDir, cfg.Bridge.ActiveUsers, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := engine.New(ctx, engine.Options{
		Store:       store,
		Bridge:      presence,
		Authorizer:  authz,
		ReplenishAt: cfg.Replenish.DailyTime,
		Location:    loc,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	subscribeEventLog(eng.Events(), logger)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	// Users listed as present at startup get their sessions right away
	if failures, err := eng.StartGlobalTimer(ctx, permission.Console); err != nil {
		logger.Error().Err(err).Msg("Failed to start sessions for present users")
	} else {
		for id, err := range failures {
			logger.Warn().Err(err).Str("user_id", id).Msg("Failed to start session at startup")
		}
	}

	logger.Info().
		Time("next_replenish", eng.NextReplenish()).
		Msg("Engine started")

	var metricsServer *metrics.Server
	if cfg.Server.MetricsPort > 0 || sdListeners.Metrics != nil {
		metricsServer = metrics.NewServer(cfg.Server.MetricsAddr(), logger)
		if sdListeners.Metrics != nil {
			metricsServer.SetListener(sdListeners.Metrics)
		}
		if err := metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	reload := func(ctx context.Context) error {
		return reloadConfiguration(ctx, eng, authz, logger)
	}

	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.NewServer(admin.Config{
			ListenAddr:   cfg.Server.AdminAddr(),
			ConsoleToken: cfg.Admin.ConsoleToken,
			RateLimit:    cfg.Admin.RateLimit,
			RateBurst:    cfg.Admin.RateBurst,
			OnReload: func(context.Context) error {
				return reloadPermissions(authz, logger)
			},
		}, eng, presence, logger)
		if sdListeners.Admin != nil {
			adminServer.SetListener(sdListeners.Admin)
		}
		if err := adminServer.Start(); err != nil {
			return fmt.Errorf("failed to start admin server: %w", err)
		}
	}

	logger.Info().Msg("Chronos startup complete")
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")
			break
		}

		logger.Info().Msg("SIGHUP received, reloading configuration...")
		_ = systemd.NotifyReloading()
		if err := reload(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to reload configuration")
		} else {
			logger.Info().Msg("Configuration reloaded successfully")
		}
		_ = systemd.NotifyReady()
	}

	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	if adminServer != nil {
		if err := adminServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping admin server")
		}
	}

	if err := eng.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Error settling sessions on shutdown")
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error().Err(err).Msg("Error stopping metrics server")
		}
	}

	logger.Info().Msg("Chronos stopped")
	return nil
}

// reloadConfiguration re-reads the engine config document and the
// permission grants and policies.
func reloadConfiguration(ctx context.Context, eng *engine.Engine, authz *authorization, logger zerolog.Logger) error {
	if _, err := eng.ReloadConfig(ctx); err != nil {
		return err
	}
	return reloadPermissions(authz, logger)
}

// reloadPermissions re-reads the grant table from the daemon config file and
// reloads the policies.
func reloadPermissions(authz *authorization, logger zerolog.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := checkGrants(cfg.Permissions.Grants); err != nil {
		return err
	}
	if err := authz.reload(cfg.Permissions.Grants); err != nil {
		return err
	}
	logger.Info().Int("contractors", len(cfg.Permissions.Grants)).Msg("Permissions reloaded")
	return nil
}

// subscribeEventLog logs every engine event at debug level.
func subscribeEventLog(bus *events.Bus, logger zerolog.Logger) {
	logger = logger.With().Str("component", "events").Logger()
	for _, kind := range []events.Kind{
		events.KindSessionCreated,
		events.KindSessionExpired,
		events.KindLeftoverThresholdReached,
		events.KindQuotaReplenished,
	} {
		bus.Subscribe(kind, func(ev events.Event) error {
			logger.Debug().Str("kind", ev.Kind().String()).Interface("event", ev).Msg("Engine event")
			return nil
		})
	}
}
