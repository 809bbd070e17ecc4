package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vzahanych/engagement-edge/internal/config"
	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/state"
)

var (
	// Version is the application version, set at build time
	Version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"

	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "engagement-edge",
	Short:        "On-device viewer engagement inference",
	Version:      Version,
	SilenceUsage: true,
}

// Execute runs the root command until it finishes or the process is interrupted
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
}

// loadConfig loads the configuration and builds the logger from it
func loadConfig() (*config.Service, *logger.Logger, error) {
	cfgSvc, err := config.NewService(configPath, nil)
	if err != nil {
		return nil, nil, err
	}
	cfg := cfgSvc.Get()

	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(logger.LogConfig{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfgSvc.SetLogger(log)
	return cfgSvc, log, nil
}

func openState(cfg *config.Config, log *logger.Logger) (*state.Manager, error) {
	stateMgr, err := state.NewManager(cfg.DatabasePath(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return stateMgr, nil
}
