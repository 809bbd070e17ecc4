package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/vzahanych/engagement-edge/internal/logger"
)

// Service provides configuration management with environment variable support
type Service struct {
	config     *Config
	configPath string
	logger     *logger.Logger
	mu         sync.RWMutex
	watchers   []ConfigWatcher
}

// ConfigWatcher is called when configuration changes
type ConfigWatcher func(ctx context.Context, oldConfig, newConfig *Config) error

// NewService creates a new configuration service
func NewService(configPath string, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	if err := LoadDotEnv(configPath); err != nil {
		log.Warn("Failed to load .env file", "error", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial configuration: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Service{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		watchers:   make([]ConfigWatcher, 0),
	}, nil
}

// NewStaticService wraps an already built configuration, e.g. one created with Default
func NewStaticService(cfg *Config, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &Service{config: cfg, logger: log}, nil
}

// Get returns the current configuration (thread-safe)
func (s *Service) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// Reload reloads the configuration from file
func (s *Service) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.configPath == "" {
		return fmt.Errorf("configuration was not loaded from a file")
	}

	oldConfig := s.config

	newConfig, err := Load(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	applyEnvOverrides(newConfig)

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid reloaded configuration: %w", err)
	}

	s.config = newConfig

	for _, watcher := range s.watchers {
		if err := watcher(ctx, oldConfig, newConfig); err != nil {
			s.logger.Error("Config watcher error", "error", err)
		}
	}

	s.logger.Info("Configuration reloaded", "path", s.configPath)
	return nil
}

// SetLogger replaces the logger once it has been built from the loaded config
func (s *Service) SetLogger(log *logger.Logger) {
	if log == nil {
		return
	}
	s.mu.Lock()
	s.logger = log.Named("config")
	s.mu.Unlock()
}

// Watch registers a configuration change watcher
func (s *Service) Watch(watcher ConfigWatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, watcher)
}

// LoadDotEnv loads a .env file from the working directory and from the
// directory holding the config file. Variables already set are not replaced.
func LoadDotEnv(configPath string) error {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}

	var files []string
	seen := make(map[string]bool)
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true
		if _, err := os.Stat(abs); err == nil {
			files = append(files, abs)
		}
	}

	if len(files) == 0 {
		return nil
	}
	return godotenv.Load(files...)
}

// applyEnvOverrides applies environment variable overrides to configuration
func applyEnvOverrides(cfg *Config) {
	e := &cfg.Engagement

	e.DataDir = GetEnvWithDefault("ENGAGEMENT_DATA_DIR", e.DataDir)

	// Models
	e.Models.DefaultModel = GetEnvWithDefault("ENGAGEMENT_DEFAULT_MODEL", e.Models.DefaultModel)
	e.Models.CatalogueFile = GetEnvWithDefault("ENGAGEMENT_MODEL_CATALOGUE", e.Models.CatalogueFile)

	// Loader
	e.Loader.BaseURL = GetEnvWithDefault("ENGAGEMENT_MODEL_BASE_URL", e.Loader.BaseURL)
	if val := os.Getenv("ENGAGEMENT_MODEL_FALLBACK_DIRS"); val != "" {
		e.Loader.FallbackDirs = splitList(val)
	}
	e.Loader.Timeout = GetEnvDuration("ENGAGEMENT_MODEL_LOAD_TIMEOUT", e.Loader.Timeout)

	// Runtime
	e.Runtime.SharedLibraryPath = GetEnvWithDefault("ENGAGEMENT_ORT_LIBRARY", e.Runtime.SharedLibraryPath)
	e.Runtime.IntraOpThreads = GetEnvInt("ENGAGEMENT_ORT_THREADS", e.Runtime.IntraOpThreads)

	// Scheduler
	e.Scheduler.CollectionInterval = GetEnvDuration("ENGAGEMENT_COLLECTION_INTERVAL", e.Scheduler.CollectionInterval)
	e.Scheduler.InferenceInterval = GetEnvDuration("ENGAGEMENT_INFERENCE_INTERVAL", e.Scheduler.InferenceInterval)

	// Remote fallback
	e.Fallback.ServiceURL = GetEnvWithDefault("ENGAGEMENT_REMOTE_URL", e.Fallback.ServiceURL)
	e.Fallback.MaxLocalErrors = GetEnvInt("ENGAGEMENT_MAX_LOCAL_ERRORS", e.Fallback.MaxLocalErrors)
	e.Fallback.Timeout = GetEnvDuration("ENGAGEMENT_REMOTE_TIMEOUT", e.Fallback.Timeout)

	// Results
	e.Results.Endpoint = GetEnvWithDefault("ENGAGEMENT_RESULTS_ENDPOINT", e.Results.Endpoint)
	e.Results.BatchSize = GetEnvInt("ENGAGEMENT_RESULTS_BATCH_SIZE", e.Results.BatchSize)

	// Retention and telemetry
	e.Retention.Days = GetEnvInt("ENGAGEMENT_RETENTION_DAYS", e.Retention.Days)
	e.Telemetry.Enabled = GetEnvBool("ENGAGEMENT_TELEMETRY_ENABLED", e.Telemetry.Enabled)

	// Web
	e.Web.Enabled = GetEnvBool("ENGAGEMENT_WEB_ENABLED", e.Web.Enabled)
	e.Web.Port = GetEnvInt("ENGAGEMENT_WEB_PORT", e.Web.Port)
	if val := os.Getenv("ENGAGEMENT_WEB_ALLOWED_ORIGINS"); val != "" {
		e.Web.AllowedOrigins = splitList(val)
	}

	// Log settings
	cfg.Log.Level = GetEnvWithDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = GetEnvWithDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Log.Output = GetEnvWithDefault("LOG_OUTPUT", cfg.Log.Output)
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultValue
}

// GetEnvBool gets a boolean environment variable
func GetEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	val = strings.ToLower(val)
	return val == "true" || val == "1" || val == "yes" || val == "on"
}

// GetEnvInt gets an integer environment variable
func GetEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	var result int
	if _, err := fmt.Sscanf(val, "%d", &result); err != nil {
		return defaultValue
	}
	return result
}

// GetEnvDuration gets a duration environment variable
func GetEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(val); err == nil {
		return duration
	}
	return defaultValue
}
