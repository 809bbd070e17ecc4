package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Engagement EngagementConfig `yaml:"engagement"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// EngagementConfig contains the engagement monitor configuration
type EngagementConfig struct {
	DataDir   string          `yaml:"data_dir"`
	Models    ModelsConfig    `yaml:"models"`
	Loader    LoaderConfig    `yaml:"loader"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Results   ResultsConfig   `yaml:"results"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Web       WebConfig       `yaml:"web"`
}

// ModelsConfig contains model registry configuration
type ModelsConfig struct {
	DefaultModel  string `yaml:"default_model"`
	CatalogueFile string `yaml:"catalogue_file"` // Optional: extra model descriptors
	PreferenceKey string `yaml:"preference_key"`
}

// LoaderConfig contains model artifact resolution configuration
type LoaderConfig struct {
	BaseURL      string        `yaml:"base_url"`      // Origin used for absolute candidates
	AssetPaths   []string      `yaml:"asset_paths"`   // Primary, public and legacy asset paths, in order
	FallbackDirs []string      `yaml:"fallback_dirs"` // Local directories tried after HTTP candidates
	Timeout      time.Duration `yaml:"timeout"`
}

// RuntimeConfig contains inference runtime configuration
type RuntimeConfig struct {
	SharedLibraryPath        string `yaml:"shared_library_path"`
	IntraOpThreads           int    `yaml:"intra_op_threads"`
	DisableGraphOptimization bool   `yaml:"disable_graph_optimization"`
	Profiling                bool   `yaml:"profiling"`
}

// SchedulerConfig contains frame collection and inference cadence configuration
type SchedulerConfig struct {
	FPS                int           `yaml:"fps"`
	CollectionInterval time.Duration `yaml:"collection_interval"`
	InferenceInterval  time.Duration `yaml:"inference_interval"`
}

// FallbackConfig contains remote fallback configuration
type FallbackConfig struct {
	MaxLocalErrors int           `yaml:"max_local_errors"`
	ServiceURL     string        `yaml:"service_url"`
	Endpoint       string        `yaml:"endpoint"`
	Timeout        time.Duration `yaml:"timeout"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// ResultsConfig contains prediction batching configuration
type ResultsConfig struct {
	Endpoint             string        `yaml:"endpoint"` // Empty disables upload; results stay in the local log
	QueueSize            int           `yaml:"queue_size"`
	BatchSize            int           `yaml:"batch_size"`
	TransmissionInterval time.Duration `yaml:"transmission_interval"`
	MaxRetries           int           `yaml:"max_retries"`
}

// RetentionConfig contains prediction log retention configuration
type RetentionConfig struct {
	Days                int           `yaml:"days"` // Uploaded predictions older than this are pruned
	Interval            time.Duration `yaml:"interval"`
	MaxDiskUsagePercent float64       `yaml:"max_disk_usage_percent"`
}

// TelemetryConfig contains pipeline telemetry configuration
type TelemetryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// WebConfig contains local API server configuration
type WebConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // CORS origins of the player page, "*" for any
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML configuration data and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config/config.dev.yaml",
		"./config/config.yaml",
		"../config/config.yaml",
		"/etc/engagement-edge/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}

	e := &c.Engagement
	if e.DataDir == "" {
		e.DataDir = "./data"
	}

	if e.Models.DefaultModel == "" {
		e.Models.DefaultModel = "v1"
	}
	if e.Models.PreferenceKey == "" {
		e.Models.PreferenceKey = "engagement.model_variant"
	}

	if len(e.Loader.AssetPaths) == 0 {
		e.Loader.AssetPaths = []string{"/models", "/public/models", "assets/models"}
	}
	if len(e.Loader.FallbackDirs) == 0 {
		e.Loader.FallbackDirs = []string{filepath.Join(e.DataDir, "models"), "./models"}
	}
	if e.Loader.Timeout == 0 {
		e.Loader.Timeout = 30 * time.Second
	}

	if e.Scheduler.FPS == 0 {
		e.Scheduler.FPS = 15
	}
	if e.Scheduler.CollectionInterval == 0 && e.Scheduler.FPS > 0 {
		e.Scheduler.CollectionInterval = time.Second / time.Duration(e.Scheduler.FPS)
	}
	if e.Scheduler.InferenceInterval == 0 {
		e.Scheduler.InferenceInterval = 2 * time.Second
	}

	if e.Fallback.MaxLocalErrors == 0 {
		e.Fallback.MaxLocalErrors = 3
	}
	if e.Fallback.ServiceURL == "" {
		e.Fallback.ServiceURL = "http://localhost:8000"
	}
	if e.Fallback.Endpoint == "" {
		e.Fallback.Endpoint = "/api/engagement/process"
	}
	if e.Fallback.Timeout == 0 {
		e.Fallback.Timeout = 10 * time.Second
	}
	if e.Fallback.RetryAttempts == 0 {
		e.Fallback.RetryAttempts = 3
	}
	if e.Fallback.RetryDelay == 0 {
		e.Fallback.RetryDelay = time.Second
	}

	if e.Results.QueueSize == 0 {
		e.Results.QueueSize = 1000
	}
	if e.Results.BatchSize == 0 {
		e.Results.BatchSize = 20
	}
	if e.Results.TransmissionInterval == 0 {
		e.Results.TransmissionInterval = 10 * time.Second
	}
	if e.Results.MaxRetries == 0 {
		e.Results.MaxRetries = 3
	}

	if e.Retention.Days == 0 {
		e.Retention.Days = 7
	}
	if e.Retention.Interval == 0 {
		e.Retention.Interval = time.Hour
	}
	if e.Retention.MaxDiskUsagePercent == 0 {
		e.Retention.MaxDiskUsagePercent = 90
	}

	if e.Telemetry.Interval == 0 {
		e.Telemetry.Interval = 30 * time.Second
	}

	if e.Web.Host == "" {
		e.Web.Host = "127.0.0.1"
	}
	if e.Web.Port == 0 {
		e.Web.Port = 8090
	}
	if len(e.Web.AllowedOrigins) == 0 {
		e.Web.AllowedOrigins = []string{"*"}
	}
}

// DatabasePath returns the sqlite database location under the data directory
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Engagement.DataDir, "db", "engagement.db")
}
