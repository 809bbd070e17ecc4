package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vzahanych/engagement-edge/internal/config"
	"github.com/vzahanych/engagement-edge/internal/health"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/monitor"
	"github.com/vzahanych/engagement-edge/internal/ort"
	"github.com/vzahanych/engagement-edge/internal/service"
	"github.com/vzahanych/engagement-edge/internal/storage"
	"github.com/vzahanych/engagement-edge/internal/telemetry"
	"github.com/vzahanych/engagement-edge/internal/web"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engagement monitor and its local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	cfgSvc, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Sync()
	cfg := cfgSvc.Get()

	log.Info("Starting engagement edge",
		"version", Version,
		"build_time", buildTime,
		"git_commit", gitCommit,
	)

	stateMgr, err := openState(cfg, log)
	if err != nil {
		return err
	}
	defer stateMgr.Close()

	if recovered, err := stateMgr.RecoverState(ctx); err != nil {
		log.Warn("Failed to recover state", "error", err)
	} else {
		log.Info("Recovered state", "pending_predictions", recovered.PendingPredictions, "pending_by_model", recovered.PendingByModel)
	}

	runtime := ort.NewRuntime(ort.Config{
		SharedLibraryPath: cfg.Engagement.Runtime.SharedLibraryPath,
		IntraOpThreads:    cfg.Engagement.Runtime.IntraOpThreads,
	}, log)
	defer runtime.Close()

	pipeline, err := monitor.Build(cfg, stateMgr, runtime, log)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	svcMgr := service.NewManager(log)
	pipeline.Register(svcMgr)

	disk := storage.NewDiskMonitor(cfg.Engagement.DataDir, cfg.Engagement.Retention.MaxDiskUsagePercent, log)
	retention := storage.NewRetentionPolicy(storage.RetentionConfig{
		RetentionDays: cfg.Engagement.Retention.Days,
		Interval:      cfg.Engagement.Retention.Interval,
	}, stateMgr, disk, log)
	svcMgr.Register(retention)

	collector := telemetry.NewCollector(&cfg.Engagement.Telemetry, pipeline.Monitor, pipeline.Queue, disk, stateMgr, log)
	svcMgr.Register(collector)

	healthMgr := newHealthManager(cfg, pipeline, stateMgr, svcMgr, log)

	server := web.NewServer(&cfg.Engagement.Web, log)
	server.SetVersion(Version)
	server.SetDependencies(pipeline.Monitor, healthMgr, stateMgr, pipeline.Transmitter)
	server.SetConfigDependency(cfgSvc)
	server.SetMaintenanceDependencies(collector, retention)
	svcMgr.Register(server)

	cfgSvc.Watch(func(ctx context.Context, oldConfig, newConfig *config.Config) error {
		if logLevel == "" && oldConfig.Log.Level != newConfig.Log.Level {
			if err := log.SetLevel(newConfig.Log.Level); err != nil {
				return err
			}
			log.Info("Log level changed", "level", log.Level())
		}
		if oldConfig.Engagement.Models.DefaultModel != newConfig.Engagement.Models.DefaultModel {
			log.Info("Default model changed, it applies on next start", "default_model", newConfig.Engagement.Models.DefaultModel)
		}
		return nil
	})

	if err := svcMgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}

	go reloadOnHangup(ctx, cfgSvc, log)

	<-ctx.Done()
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := svcMgr.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error during shutdown: %w", err)
	}

	log.Info("Shutdown complete")
	return nil
}

// reloadOnHangup re-reads the config file on SIGHUP until ctx is done
func reloadOnHangup(ctx context.Context, cfgSvc *config.Service, log *logger.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := cfgSvc.Reload(ctx); err != nil {
				log.Warn("Configuration reload failed", "error", err)
				continue
			}
			log.Info("Configuration reloaded", "path", configPath)
		}
	}
}

func newHealthManager(cfg *config.Config, p *monitor.Pipeline, db health.Pinger, svcMgr *service.Manager, log *logger.Logger) *health.Manager {
	healthMgr := health.NewManager(log, svcMgr)
	healthMgr.RegisterChecker(health.NewModelChecker(p.Engine))
	healthMgr.RegisterChecker(health.NewFallbackChecker(p.Coordinator))
	if p.Remote != nil {
		healthMgr.RegisterChecker(health.NewRemoteServiceChecker(p.Remote))
	}
	healthMgr.RegisterChecker(health.NewDatabaseChecker(db, cfg.DatabasePath()))
	healthMgr.RegisterChecker(health.NewStorageChecker(cfg.Engagement.DataDir, cfg.Engagement.Loader.FallbackDirs))
	return healthMgr
}
