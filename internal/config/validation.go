package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate validates the configuration with detailed error messages
func (c *Config) Validate() error {
	var errors []string
	e := c.Engagement

	if e.DataDir == "" {
		errors = append(errors, "engagement.data_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errors = append(errors, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error, fatal)", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errors = append(errors, fmt.Sprintf("invalid log.format: %s (must be: text or json)", c.Log.Format))
	}

	if e.Models.DefaultModel == "" {
		errors = append(errors, "engagement.models.default_model is required")
	}

	if e.Loader.BaseURL != "" {
		if _, err := url.ParseRequestURI(e.Loader.BaseURL); err != nil {
			errors = append(errors, fmt.Sprintf("engagement.loader.base_url is not a valid URL: %s", e.Loader.BaseURL))
		}
	}
	if e.Loader.Timeout <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.loader.timeout must be > 0, got: %v", e.Loader.Timeout))
	}

	if e.Runtime.IntraOpThreads < 0 {
		errors = append(errors, fmt.Sprintf("engagement.runtime.intra_op_threads must be >= 0, got: %d", e.Runtime.IntraOpThreads))
	}

	if e.Scheduler.FPS <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.scheduler.fps must be > 0, got: %d", e.Scheduler.FPS))
	}
	if e.Scheduler.CollectionInterval <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.scheduler.collection_interval must be > 0, got: %v", e.Scheduler.CollectionInterval))
	}
	if e.Scheduler.InferenceInterval <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.scheduler.inference_interval must be > 0, got: %v", e.Scheduler.InferenceInterval))
	}

	if e.Fallback.MaxLocalErrors <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.fallback.max_local_errors must be > 0, got: %d", e.Fallback.MaxLocalErrors))
	}
	if _, err := url.ParseRequestURI(e.Fallback.ServiceURL); err != nil {
		errors = append(errors, fmt.Sprintf("engagement.fallback.service_url is not a valid URL: %s", e.Fallback.ServiceURL))
	}
	if !strings.HasPrefix(e.Fallback.Endpoint, "/") {
		errors = append(errors, fmt.Sprintf("engagement.fallback.endpoint must start with '/', got: %s", e.Fallback.Endpoint))
	}
	if e.Fallback.RetryAttempts <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.fallback.retry_attempts must be > 0, got: %d", e.Fallback.RetryAttempts))
	}
	if e.Fallback.RetryDelay < 0 {
		errors = append(errors, fmt.Sprintf("engagement.fallback.retry_delay must be >= 0, got: %v", e.Fallback.RetryDelay))
	}

	if e.Results.QueueSize <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.results.queue_size must be > 0, got: %d", e.Results.QueueSize))
	}
	if e.Results.BatchSize <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.results.batch_size must be > 0, got: %d", e.Results.BatchSize))
	}
	if e.Results.BatchSize > e.Results.QueueSize {
		errors = append(errors, fmt.Sprintf("engagement.results.batch_size (%d) cannot be greater than queue_size (%d)", e.Results.BatchSize, e.Results.QueueSize))
	}
	if e.Results.TransmissionInterval <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.results.transmission_interval must be > 0, got: %v", e.Results.TransmissionInterval))
	}

	if e.Retention.Days < 0 {
		errors = append(errors, fmt.Sprintf("engagement.retention.days must be >= 0, got: %d", e.Retention.Days))
	}
	if e.Retention.MaxDiskUsagePercent <= 0 || e.Retention.MaxDiskUsagePercent > 100 {
		errors = append(errors, fmt.Sprintf("engagement.retention.max_disk_usage_percent must be between 0 and 100, got: %v", e.Retention.MaxDiskUsagePercent))
	}
	if e.Telemetry.Enabled && e.Telemetry.Interval <= 0 {
		errors = append(errors, fmt.Sprintf("engagement.telemetry.interval must be > 0, got: %v", e.Telemetry.Interval))
	}

	if e.Web.Enabled && (e.Web.Port <= 0 || e.Web.Port > 65535) {
		errors = append(errors, fmt.Sprintf("engagement.web.port must be between 1 and 65535, got: %d", e.Web.Port))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}
