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

// Config holds the configuration for connecting to the CryptoGuard API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
}

// Client is a pure HTTP client for the CryptoGuard API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the CryptoGuard API.
func NewClient(cfg Config) *Client {
	return &Client{
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
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
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

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
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

// SupportedNetworks lists the networks wallets can be connected on.
func (c *Client) SupportedNetworks(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/supported", nil, nil)
}

// Overview returns the dashboard summary without dispatching.
func (c *Client) Overview(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/overview", nil, nil)
}

// CheckAlerts runs a monitoring cycle, which may notify the user.
func (c *Client) CheckAlerts(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/alerts", nil, nil)
}

// AlertHistory pages through stored alerts.
func (c *Client) AlertHistory(ctx context.Context, limit int, cursor string) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/alerts/history", q, nil)
}

// Transactions returns a wallet's transaction window.
func (c *Client) Transactions(ctx context.Context, walletID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/wallets/" + url.PathEscape(walletID) + "/transactions"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}

// ReportAccessFailure counts a failed access attempt against a wallet.
func (c *Client) ReportAccessFailure(ctx context.Context, walletID string) (json.RawMessage, error) {
	path := "/v1/wallets/" + url.PathEscape(walletID) + "/access-failures"
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// SendTestNotification dispatches a test alert to the caller.
func (c *Client) SendTestNotification(ctx context.Context, message string) (json.RawMessage, error) {
	body := map[string]string{"message": message}
	return c.doRequest(ctx, http.MethodPost, "/v1/notifications/test", nil, body)
}
