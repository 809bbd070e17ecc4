package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vzahanych/engagement-edge/internal/fallback"
	"github.com/vzahanych/engagement-edge/internal/inference"
)

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}

// ModelInfoProvider exposes the active model and its session
type ModelInfoProvider interface {
	Info() inference.ModelInfo
}

// ModelChecker reports whether the active model has a loaded session
type ModelChecker struct {
	provider ModelInfoProvider
}

func NewModelChecker(provider ModelInfoProvider) *ModelChecker {
	return &ModelChecker{provider: provider}
}

func (c *ModelChecker) Name() string {
	return "model"
}

func (c *ModelChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	info := c.provider.Info()

	check.Details["model_id"] = info.Model.ID
	check.Details["state"] = info.State

	switch {
	case info.Loaded:
		check.Status = StatusHealthy
		check.Message = "Model session loaded"
		check.Details["source"] = info.Source
		check.Details["location"] = info.Location
	case info.LastError != "":
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Model not loaded: %s", info.LastError)
	default:
		check.Status = StatusDegraded
		check.Message = "Model loads on first prediction"
	}

	return check
}

// FallbackStatusProvider exposes the processing mode
type FallbackStatusProvider interface {
	Status() fallback.Status
}

// FallbackChecker reports the processing mode. Failing local and remote
// inference together is unhealthy.
type FallbackChecker struct {
	provider FallbackStatusProvider
}

func NewFallbackChecker(provider FallbackStatusProvider) *FallbackChecker {
	return &FallbackChecker{provider: provider}
}

func (c *FallbackChecker) Name() string {
	return "inference_mode"
}

func (c *FallbackChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	st := c.provider.Status()

	check.Details["mode"] = st.Mode
	check.Details["local_error_count"] = st.LocalErrorCount
	check.Details["remote_failures"] = st.RemoteFailures

	switch {
	case st.Message != "":
		check.Status = StatusUnhealthy
		check.Message = st.Message
	case st.Mode == inference.ModeRemote:
		check.Status = StatusDegraded
		check.Message = "Running on remote fallback"
	default:
		check.Status = StatusHealthy
		check.Message = "Running locally"
	}

	return check
}

// RemoteHealthChecker can probe the remote service
type RemoteHealthChecker interface {
	HealthCheck(ctx context.Context) error
	ServiceURL() string
}

// RemoteServiceChecker checks remote fallback service connectivity
type RemoteServiceChecker struct {
	client  RemoteHealthChecker
	timeout time.Duration
}

func NewRemoteServiceChecker(client RemoteHealthChecker) *RemoteServiceChecker {
	return &RemoteServiceChecker{client: client, timeout: 3 * time.Second}
}

func (c *RemoteServiceChecker) Name() string {
	return "remote_service"
}

func (c *RemoteServiceChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if c.client == nil || c.client.ServiceURL() == "" {
		check.Status = StatusDegraded
		check.Message = "Remote service URL not configured"
		return check
	}
	check.Details["url"] = c.client.ServiceURL()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	// remote is only needed after local failures, so unreachable is degraded
	if err := c.client.HealthCheck(ctx); err != nil {
		check.Status = StatusDegraded
		check.Message = fmt.Sprintf("Remote service unreachable: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Remote service is reachable"
	return check
}

// Pinger checks database connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker checks database connectivity
type DatabaseChecker struct {
	db     Pinger
	dbPath string
}

func NewDatabaseChecker(db Pinger, dbPath string) *DatabaseChecker {
	return &DatabaseChecker{db: db, dbPath: dbPath}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())
	check.Details["path"] = c.dbPath

	if c.db == nil {
		check.Status = StatusUnhealthy
		check.Message = "Database not opened"
		return check
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		check.Status = StatusUnhealthy
		check.Message = fmt.Sprintf("Database ping failed: %v", err)
		return check
	}

	check.Status = StatusHealthy
	check.Message = "Database connection OK"
	return check
}

// StorageChecker checks the data directory and local model directories
type StorageChecker struct {
	dataDir   string
	modelDirs []string
}

func NewStorageChecker(dataDir string, modelDirs []string) *StorageChecker {
	return &StorageChecker{dataDir: dataDir, modelDirs: modelDirs}
}

func (c *StorageChecker) Name() string {
	return "storage"
}

func (c *StorageChecker) Check(ctx context.Context) Check {
	check := newCheck(c.Name())

	if c.dataDir != "" {
		if err := os.MkdirAll(c.dataDir, 0755); err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Failed to create data directory: %v", err)
			return check
		}
		probe, err := os.CreateTemp(c.dataDir, ".health-*")
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = fmt.Sprintf("Data directory not writable: %v", err)
			return check
		}
		probe.Close()
		os.Remove(probe.Name())
		check.Details["data_dir"] = c.dataDir
	}

	found := make([]string, 0, len(c.modelDirs))
	for _, dir := range c.modelDirs {
		entries, err := filepath.Glob(filepath.Join(dir, "*.onnx"))
		if err == nil && len(entries) > 0 {
			found = append(found, dir)
		}
	}
	check.Details["model_dirs_with_artifacts"] = found

	check.Status = StatusHealthy
	check.Message = "Storage directories accessible"
	return check
}
