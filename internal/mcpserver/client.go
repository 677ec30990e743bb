package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the RoadWatch API.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Optional; enables the moderation tools when set
}

// RoadWatchClient is a pure HTTP client for the RoadWatch API.
type RoadWatchClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewRoadWatchClient creates a new client for the RoadWatch API.
func NewRoadWatchClient(cfg Config) *RoadWatchClient {
	return &RoadWatchClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *RoadWatchClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.AdminSecret != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AdminSecret)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetScore returns the current score status for a driver.
func (c *RoadWatchClient) GetScore(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/drivers/"+url.PathEscape(userID)+"/score", nil, nil)
}

// GetHistory returns the score event ledger for a driver, newest first.
func (c *RoadWatchClient) GetHistory(ctx context.Context, userID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/drivers/"+url.PathEscape(userID)+"/score/history", q, nil)
}

// GetBreakdown returns per-incident-type score impact for a driver.
func (c *RoadWatchClient) GetBreakdown(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/drivers/"+url.PathEscape(userID)+"/score/breakdown", nil, nil)
}

// GetMilestones returns the milestones a driver has reached.
func (c *RoadWatchClient) GetMilestones(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/drivers/"+url.PathEscape(userID)+"/milestones", nil, nil)
}

// GetReports lists incident reports filed against a driver.
func (c *RoadWatchClient) GetReports(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/drivers/"+url.PathEscape(userID)+"/reports", nil, nil)
}

// ListWeights returns the incident weight table.
func (c *RoadWatchClient) ListWeights(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/incident-weights", nil, nil)
}

// ResolveDispute closes a dispute as upheld or overturned. Requires the
// admin secret.
func (c *RoadWatchClient) ResolveDispute(ctx context.Context, disputeID string, overturned bool) (json.RawMessage, error) {
	body := map[string]any{
		"overturned": overturned,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/admin/disputes/"+url.PathEscape(disputeID)+"/resolve", nil, body)
}
