package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/existflow/taskmirror/internal/logger"
)

// maxPageSize is the server's page-size ceiling; larger requests are clamped
// server-side, so we never ask for more.
const maxPageSize = 100

// Client talks to the remote workspace API.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
}

// NewClient creates a workspace API client.
func NewClient(baseURL, token, apiVersion string) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// QueryCollection fetches one page of a collection. An empty cursor requests
// the first page.
func (c *Client) QueryCollection(ctx context.Context, collectionID, cursor string, pageSize int) (*QueryResponse, error) {
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	reqBody := map[string]interface{}{
		"page_size": pageSize,
	}
	if cursor != "" {
		reqBody["start_cursor"] = cursor
	}
	body, _ := json.Marshal(reqBody)

	url := fmt.Sprintf("%s/databases/%s/query", c.baseURL, collectionID)
	logger.Debug("HTTP Request",
		logger.F("method", "POST"),
		logger.F("url", url),
		logger.F("cursor", cursor))

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.apiVersion != "" {
		req.Header.Set("Notion-Version", c.apiVersion)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Error("HTTP request failed", logger.F("error", err), logger.F("url", url))
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	logger.Debug("HTTP Response",
		logger.F("status", resp.StatusCode),
		logger.F("statusText", resp.Status))

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var result QueryResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	return &result, nil
}

// parseRetryAfter converts a Retry-After header (seconds) to a duration.
// Fractional values are accepted; anything unparseable yields 0.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
