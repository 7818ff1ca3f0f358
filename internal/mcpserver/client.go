package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mbd888/fraudwatch/internal/retry"
)

// Config holds the configuration for connecting to a fraudwatch server.
type Config struct {
	APIURL      string // Base URL, e.g. "http://localhost:8080"
	AdminSecret string // Sent as X-Admin-Secret on every call
	Operator    string // Recorded as reviewer and in admin audit logs
}

// Client is a pure HTTP client for the fraudwatch API.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retry      retry.Policy
}

// NewClient creates a new client for the fraudwatch API.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retry: retry.DefaultPolicy,
	}
}

// apiError represents an error response from the server.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string { return fmt.Sprintf("API error (%d): %s", e.code, e.msg) }

// get issues an idempotent GET, retrying connection failures, 429 and 5xx.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var out json.RawMessage
	err := retry.Do(ctx, c.retry, func(int) error {
		body, err := c.doRequest(ctx, http.MethodGet, path, query, nil)
		if err == nil {
			out = body
			return nil
		}
		var se *statusError
		if errors.As(err, &se) && se.code < 500 && se.code != http.StatusTooManyRequests {
			return retry.Permanent(err)
		}
		if ctx.Err() != nil {
			return retry.Permanent(err)
		}
		return err
	})
	return out, err
}

// doRequest makes an HTTP request to the server and returns the response body.
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

	if c.cfg.AdminSecret != "" {
		req.Header.Set("X-Admin-Secret", c.cfg.AdminSecret)
	}
	if c.cfg.Operator != "" {
		req.Header.Set("X-Operator", c.cfg.Operator)
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
			return nil, &statusError{code: resp.StatusCode, msg: apiErr.Message}
		}
		return nil, &statusError{code: resp.StatusCode, msg: string(respBody)}
	}

	return json.RawMessage(respBody), nil
}

// SubmitTransaction scores and stores a transaction.
func (c *Client) SubmitTransaction(ctx context.Context, tx map[string]any) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/transactions/submit", nil, tx)
}

// GetTransaction fetches one stored transaction.
func (c *Client) GetTransaction(ctx context.Context, id string) (json.RawMessage, error) {
	return c.get(ctx, "/api/transactions/"+url.PathEscape(id), nil)
}

// ListTransactions lists stored transactions, newest first.
func (c *Client) ListTransactions(ctx context.Context, status, userID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if userID != "" {
		q.Set("userId", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/api/transactions", q)
}

// NextForReview pops the highest-risk transaction off the review queue. It is not retried because the call pops the entry.
func (c *Client) NextForReview(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/transactions/queue/next", nil, nil)
}

// ReviewQueue lists the review queue without removing anything.
func (c *Client) ReviewQueue(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/api/transactions/queue", nil)
}

// ReviewTransaction records an analyst decision.
func (c *Client) ReviewTransaction(ctx context.Context, id, status, notes string) (json.RawMessage, error) {
	body := map[string]string{
		"status":     status,
		"notes":      notes,
		"reviewedBy": c.cfg.Operator,
	}
	return c.doRequest(ctx, http.MethodPatch, "/api/transactions/"+url.PathEscape(id)+"/review", nil, body)
}

// AddToBlacklist blacklists a user, IP, instrument or merchant.
func (c *Client) AddToBlacklist(ctx context.Context, kind, value string) (json.RawMessage, error) {
	body := map[string]string{"type": kind, "value": value}
	return c.doRequest(ctx, http.MethodPost, "/api/admin/blacklist", nil, body)
}

// FlagIP marks an IP address as suspicious.
func (c *Client) FlagIP(ctx context.Context, ip, reason string) (json.RawMessage, error) {
	body := map[string]string{"reason": reason}
	return c.doRequest(ctx, http.MethodPost, "/api/admin/networks/"+url.PathEscape(ip)+"/flag", nil, body)
}

// GraphStats returns fraud graph totals.
func (c *Client) GraphStats(ctx context.Context) (json.RawMessage, error) {
	return c.get(ctx, "/api/admin/graph/stats", nil)
}

// FraudRings lists connected groups of users, largest first.
func (c *Client) FraudRings(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.get(ctx, "/api/admin/graph/rings", q)
}

// ActorsLinked reports whether two users share a fraud ring.
func (c *Client) ActorsLinked(ctx context.Context, a, b string) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("a", a)
	q.Set("b", b)
	return c.get(ctx, "/api/admin/graph/linked", q)
}

// Summary aggregates transactions over a period (1h, 24h, 7d, 30d, all).
func (c *Client) Summary(ctx context.Context, period string) (json.RawMessage, error) {
	q := url.Values{}
	if period != "" {
		q.Set("period", period)
	}
	return c.get(ctx, "/api/admin/analytics/summary", q)
}
