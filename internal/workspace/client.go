package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const (
	// activePath is the endpoint the external workspace service exposes.
	activePath = "/api/v1/workspaces/active"

	// DefaultTimeout bounds the integration call.
	DefaultTimeout = 1 * time.Second

	// DefaultCacheTTL is how long a successful response is reused.
	DefaultCacheTTL = 60 * time.Second

	// maxResponseSize caps the body read from the external service.
	maxResponseSize = 64 * 1024
)

// Status classifies the outcome of an integration query.
type Status string

const (
	StatusSuccess         Status = "success"
	StatusTimeout         Status = "timeout"
	StatusUnavailable     Status = "unavailable"
	StatusInvalidResponse Status = "invalid_response"
)

// activeResponse is the wire shape of the external service's reply.
type activeResponse struct {
	ActiveProjectID *string `json:"active_project_id"`
}

// activeResult is the cached outcome of one query.
type activeResult struct {
	projectID   string
	status      Status
	retrievedAt time.Time
}

// ClientConfig configures the integration client.
type ClientConfig struct {
	// BaseURL of the external workspace service. Empty disables the client.
	BaseURL string

	// Timeout for the HTTP call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// CacheTTL for successful responses. Defaults to DefaultCacheTTL.
	CacheTTL time.Duration
}

// Client asks the external workspace service which project is active.
//
// Every failure category collapses to "no opinion": a timeout, a refused
// connection, a non-2xx status, and a malformed body all return the empty
// string and let the resolver fall through to the next tier. Only the log
// severity differs; malformed responses are noteworthy, the rest routine.
type Client struct {
	baseURL  string
	http     *http.Client
	ttl      time.Duration
	logger   *zap.Logger
	failures metric.Int64Counter

	mu     sync.Mutex
	cached *activeResult
}

// NewClient creates an integration client.
func NewClient(cfg ClientConfig, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("integration base URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	failures, err := otel.Meter("github.com/fyrsmithlabs/codexd/internal/workspace").Int64Counter(
		"codexd.integration.failures",
		metric.WithDescription("Workspace integration queries that degraded to no opinion, labeled by status."),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		logger.Warn("failed to create integration failures counter", zap.Error(err))
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: timeout},
		ttl:      ttl,
		logger:   logger,
		failures: failures,
	}, nil
}

// ActiveProject returns the externally active project id, or "" for
// "no opinion". Never returns an error. Successful responses are served
// from cache until the TTL expires; failures are not cached.
func (c *Client) ActiveProject(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.cached.status == StatusSuccess &&
		time.Since(c.cached.retrievedAt) < c.ttl {
		return c.cached.projectID
	}

	result := c.fetch(ctx)
	c.cached = result
	if result.status != StatusSuccess && c.failures != nil {
		c.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(result.status))))
	}
	return result.projectID
}

// Invalidate drops the cached result, forcing the next call to re-query.
func (c *Client) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cached = nil
}

func (c *Client) fetch(ctx context.Context) *activeResult {
	now := time.Now()
	url := c.baseURL + activePath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		c.logger.Warn("invalid integration request", zap.String("url", url), zap.Error(err))
		return &activeResult{status: StatusUnavailable, retrievedAt: now}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			c.logger.Debug("workspace integration timed out", zap.String("url", url))
			return &activeResult{status: StatusTimeout, retrievedAt: now}
		}
		c.logger.Debug("workspace integration unavailable", zap.String("url", url), zap.Error(err))
		return &activeResult{status: StatusUnavailable, retrievedAt: now}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.logger.Debug("workspace integration read failed", zap.String("url", url), zap.Error(err))
		return &activeResult{status: StatusUnavailable, retrievedAt: now}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("workspace integration returned non-2xx",
			zap.String("url", url),
			zap.Int("status", resp.StatusCode),
		)
		return &activeResult{status: StatusUnavailable, retrievedAt: now}
	}

	var parsed activeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("workspace integration returned malformed body",
			zap.String("url", url),
			zap.Error(err),
		)
		return &activeResult{status: StatusInvalidResponse, retrievedAt: now}
	}

	result := &activeResult{status: StatusSuccess, retrievedAt: now}
	if parsed.ActiveProjectID != nil {
		result.projectID = *parsed.ActiveProjectID
	}
	return result
}

// isTimeout distinguishes deadline expiry from other transport failures.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
