package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vzahanych/engagement-edge/internal/logger"
	"github.com/vzahanych/engagement-edge/internal/service"
)

// ErrAlreadyEnforcing is returned when a retention pass is already running
var ErrAlreadyEnforcing = errors.New("retention policy is already being enforced")

// PredictionPruner deletes uploaded predictions older than a cutoff age
type PredictionPruner interface {
	CleanupOldPredictions(ctx context.Context, olderThan time.Duration) (int64, error)
}

// DiskChecker reports whether the data volume is over its limit
type DiskChecker interface {
	IsDiskFull(ctx context.Context) (bool, error)
}

// RetentionConfig configures the prediction log retention service
type RetentionConfig struct {
	RetentionDays int
	Interval      time.Duration
}

// RetentionPolicy prunes the local prediction log. Uploaded records older
// than the retention period are removed on every pass; when the disk is
// full every uploaded record goes. Records still waiting for upload are kept.
type RetentionPolicy struct {
	*service.ServiceBase
	config RetentionConfig
	pruner PredictionPruner
	disk   DiskChecker

	mu        sync.Mutex
	enforcing bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewRetentionPolicy creates a retention service. disk may be nil.
func NewRetentionPolicy(cfg RetentionConfig, pruner PredictionPruner, disk DiskChecker, log *logger.Logger) *RetentionPolicy {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 7
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	return &RetentionPolicy{
		ServiceBase: service.NewServiceBase("prediction-retention", log),
		config:      cfg,
		pruner:      pruner,
		disk:        disk,
	}
}

// Start runs a first pass and then one per interval
func (r *RetentionPolicy) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.loop(runCtx)

	r.GetStatus().SetStatus(service.StatusRunning)
	r.LogInfo("Prediction retention started", "retention_days", r.config.RetentionDays, "interval", r.config.Interval)
	return nil
}

// Stop stops the retention loop
func (r *RetentionPolicy) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.GetStatus().SetStatus(service.StatusStopped)
	r.LogInfo("Prediction retention stopped")
	return nil
}

func (r *RetentionPolicy) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Enforce(ctx); err != nil && !errors.Is(err, ErrAlreadyEnforcing) && ctx.Err() == nil {
			r.LogError("Retention pass failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Enforce runs one retention pass and returns the number of deleted records
func (r *RetentionPolicy) Enforce(ctx context.Context) (int64, error) {
	r.mu.Lock()
	if r.enforcing {
		r.mu.Unlock()
		return 0, ErrAlreadyEnforcing
	}
	r.enforcing = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.enforcing = false
		r.mu.Unlock()
	}()

	if r.pruner == nil {
		return 0, nil
	}

	maxAge := time.Duration(r.config.RetentionDays) * 24 * time.Hour
	if r.disk != nil {
		full, err := r.disk.IsDiskFull(ctx)
		if err != nil {
			r.LogWarn("Failed to check disk usage", "error", err)
		} else if full {
			r.LogWarn("Disk usage over limit, pruning all uploaded predictions")
			maxAge = 0
		}
	}

	deleted, err := r.pruner.CleanupOldPredictions(ctx, maxAge)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		r.LogInfo("Pruned prediction log", "deleted", deleted)
	}
	return deleted, nil
}
