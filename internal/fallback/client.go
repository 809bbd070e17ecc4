package fallback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vzahanych/engagement-edge/internal/logger"
)

const maxResponseSize = 1 << 20

// Client is an HTTP client for the remote engagement service
type Client struct {
	serviceURL    string
	endpoint      string
	httpClient    *http.Client
	logger        *logger.Logger
	retryAttempts int
	retryDelay    time.Duration
}

// ClientConfig contains configuration for the remote client
type ClientConfig struct {
	ServiceURL    string
	Endpoint      string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// NewClient creates a new remote service client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.Endpoint == "" {
		config.Endpoint = "/api/engagement/process"
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &Client{
		serviceURL: strings.TrimRight(config.ServiceURL, "/"),
		endpoint:   "/" + strings.TrimLeft(config.Endpoint, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:        log,
		retryAttempts: config.RetryAttempts,
		retryDelay:    config.RetryDelay,
	}
}

// Infer posts one landmark window and returns the remote model result
func (c *Client) Infer(ctx context.Context, req *ProcessRequest) (*ProcessResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := c.serviceURL + c.endpoint
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("Sending remote inference request", "url", url, "frames", len(req.Payload.Landmarks))
	startTime := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn(
			"Remote service returned error",
			"status", resp.StatusCode,
			"response", string(body),
		)
		return nil, fmt.Errorf("remote service returned status %d: %s", resp.StatusCode, string(body))
	}

	var processResp ProcessResponse
	if err := json.Unmarshal(body, &processResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if processResp.ModelResult == nil || processResp.ModelResult.Score == nil {
		return nil, fmt.Errorf("malformed response: missing modelResult.score")
	}

	c.logger.Debug(
		"Remote inference completed",
		"score", *processResp.ModelResult.Score,
		"request_duration_ms", time.Since(startTime).Milliseconds(),
	)

	return &processResp, nil
}

// InferWithRetry performs the request up to the configured number of attempts
// with a fixed delay between them
func (c *Client) InferWithRetry(ctx context.Context, req *ProcessRequest) (*ProcessResponse, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug(
				"Retrying remote inference",
				"attempt", attempt+1,
				"max_attempts", c.retryAttempts,
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}

		resp, err := c.Infer(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		lastErr = err
		c.logger.Warn(
			"Remote inference attempt failed",
			"attempt", attempt+1,
			"error", err,
		)
	}

	return nil, fmt.Errorf("%w: failed after %d attempts: %w", ErrRemoteUnavailable, c.retryAttempts, lastErr)
}

// HealthCheck checks if the remote service is reachable
func (c *Client) HealthCheck(ctx context.Context) error {
	url := c.serviceURL + "/health"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("remote service health check failed: status %d", resp.StatusCode)
	}

	return nil
}

// ServiceURL returns the configured remote origin
func (c *Client) ServiceURL() string {
	return c.serviceURL
}
