package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/vzahanych/engagement-edge/internal/logger"
)

func createTestConfig(t *testing.T, configPath string, cfg *Config) {
	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(configPath, data, 0644))
}

func newTestConfig(t *testing.T) (*Config, string) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := &Config{}
	cfg.setDefaults()
	cfg.Engagement.DataDir = tmpDir
	createTestConfig(t, configPath, cfg)
	return cfg, configPath
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "v1", cfg.Engagement.Models.DefaultModel)
	assert.Equal(t, 3, cfg.Engagement.Fallback.MaxLocalErrors)
	assert.Equal(t, 3, cfg.Engagement.Fallback.RetryAttempts)
	assert.Equal(t, 15, cfg.Engagement.Scheduler.FPS)
	assert.Equal(t, time.Second/15, cfg.Engagement.Scheduler.CollectionInterval)
	assert.Equal(t, []string{"/models", "/public/models", "assets/models"}, cfg.Engagement.Loader.AssetPaths)
	assert.Equal(t, []string{"*"}, cfg.Engagement.Web.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestParse_KeepsExplicitValues(t *testing.T) {
	cfg, err := Parse([]byte(`
engagement:
  models:
    default_model: v3
  scheduler:
    fps: 30
    inference_interval: 500ms
  fallback:
    max_local_errors: 5
`))
	require.NoError(t, err)
	assert.Equal(t, "v3", cfg.Engagement.Models.DefaultModel)
	assert.Equal(t, time.Second/30, cfg.Engagement.Scheduler.CollectionInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Engagement.Scheduler.InferenceInterval)
	assert.Equal(t, 5, cfg.Engagement.Fallback.MaxLocalErrors)
}

func TestValidate_AggregatesErrors(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.Engagement.Fallback.Endpoint = "api/process"
	cfg.Engagement.Results.BatchSize = cfg.Engagement.Results.QueueSize + 1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log.level")
	assert.Contains(t, err.Error(), "engagement.fallback.endpoint")
	assert.Contains(t, err.Error(), "cannot be greater than queue_size")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewService(t *testing.T) {
	cfg, configPath := newTestConfig(t)

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)
	require.NotNil(t, svc.Get())
	assert.Equal(t, cfg.Engagement.DataDir, svc.Get().Engagement.DataDir)
}

func TestService_Reload(t *testing.T) {
	cfg, configPath := newTestConfig(t)

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)

	cfg.Log.Level = "debug"
	createTestConfig(t, configPath, cfg)

	require.NoError(t, svc.Reload(context.Background()))
	assert.Equal(t, "debug", svc.Get().Log.Level)
}

func TestService_Watch(t *testing.T) {
	cfg, configPath := newTestConfig(t)

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)

	watcherCalled := false
	svc.Watch(func(ctx context.Context, oldConfig, newConfig *Config) error {
		watcherCalled = true
		assert.NotNil(t, oldConfig)
		assert.NotNil(t, newConfig)
		return nil
	})

	cfg.Engagement.Models.DefaultModel = "v2"
	createTestConfig(t, configPath, cfg)

	require.NoError(t, svc.Reload(context.Background()))
	assert.True(t, watcherCalled)
	assert.Equal(t, "v2", svc.Get().Engagement.Models.DefaultModel)
}

func TestStaticService_ReloadFails(t *testing.T) {
	svc, err := NewStaticService(Default(), nil)
	require.NoError(t, err)
	assert.Error(t, svc.Reload(context.Background()))
}

func TestApplyEnvOverrides(t *testing.T) {
	_, configPath := newTestConfig(t)

	t.Setenv("ENGAGEMENT_DATA_DIR", "/custom/data")
	t.Setenv("ENGAGEMENT_REMOTE_URL", "http://custom:9090")
	t.Setenv("ENGAGEMENT_MODEL_FALLBACK_DIRS", "/opt/models, ./models ,")
	t.Setenv("ENGAGEMENT_WEB_ALLOWED_ORIGINS", "http://player.local")
	t.Setenv("LOG_LEVEL", "debug")

	svc, err := NewService(configPath, logger.NewNopLogger())
	require.NoError(t, err)

	retrieved := svc.Get()
	assert.Equal(t, "/custom/data", retrieved.Engagement.DataDir)
	assert.Equal(t, "http://custom:9090", retrieved.Engagement.Fallback.ServiceURL)
	assert.Equal(t, []string{"/opt/models", "./models"}, retrieved.Engagement.Loader.FallbackDirs)
	assert.Equal(t, []string{"http://player.local"}, retrieved.Engagement.Web.AllowedOrigins)
	assert.Equal(t, "debug", retrieved.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".env"), []byte("ENGAGEMENT_DOTENV_PROBE=from-file\n"), 0644))

	os.Unsetenv("ENGAGEMENT_DOTENV_PROBE")
	defer os.Unsetenv("ENGAGEMENT_DOTENV_PROBE")

	require.NoError(t, LoadDotEnv(configPath))
	assert.Equal(t, "from-file", os.Getenv("ENGAGEMENT_DOTENV_PROBE"))
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue    string
		defaultVal  bool
		expected    bool
		description string
	}{
		{"", false, false, "empty env with false default"},
		{"", true, true, "empty env with true default"},
		{"true", false, true, "true string"},
		{"1", false, true, "1 string"},
		{"on", false, true, "on string"},
		{"false", true, false, "false string"},
		{"off", true, false, "off string"},
	}

	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.expected, GetEnvBool("TEST_BOOL", tt.defaultVal))
		})
	}
}

func TestGetEnvIntAndDuration(t *testing.T) {
	t.Setenv("TEST_INT", "invalid")
	assert.Equal(t, 42, GetEnvInt("TEST_INT", 42))
	t.Setenv("TEST_INT", "100")
	assert.Equal(t, 100, GetEnvInt("TEST_INT", 42))

	t.Setenv("TEST_DURATION", "10s")
	assert.Equal(t, 10*time.Second, GetEnvDuration("TEST_DURATION", time.Second))
	t.Setenv("TEST_DURATION", "soon")
	assert.Equal(t, time.Second, GetEnvDuration("TEST_DURATION", time.Second))
}
