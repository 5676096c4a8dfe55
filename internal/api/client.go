// ============================================================================
// Trip-Planner Upstream Client - 旅宿 / 地點 API 客戶端
// ============================================================================
//
// Package: internal/api
// 文件: client.go
// 功能: 呼叫上游 JSON API，處理認證、重試與回應外層格式
//
// 重試策略:
//   - 連線錯誤、429 與 5xx：等待 RetryDelay 後重試，最多 MaxRetries 次
//   - 其他 4xx：立即回傳 *Error，不重試
//   - 等待期間監聽 ctx，請求被取消時立即返回
//
// 回應格式:
//   上游可能回傳陣列，或 {"data": ...} / {"results"|"items"|"content": ...}
//   的外層物件；listOf() 統一取出陣列。
//
// ============================================================================

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Upstream paths.
const (
	PathHotels       = "/api/v3/tools/interview_test/taiwan_hotels/hotels"
	PathPlans        = "/api/v3/tools/interview_test/taiwan_hotels/plans"
	PathNearbySearch = "/api/v3/tools/external/gcp/places/nearby_search_with_query"
)

// ErrEmptyResponse 表示上游回傳空內容
var ErrEmptyResponse = errors.New("empty response body")

// Error is a non-2xx upstream response.
type Error struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// Temporary reports whether the request may succeed when retried.
func (e *Error) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration // per attempt
	MaxRetries int           // total attempts
	RetryDelay time.Duration
	HTTPClient *http.Client
}

// Client calls the upstream hotel and places API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	maxRetries int
	retryDelay time.Duration
	http       *http.Client
}

// NewClient creates a client. Zero options take the defaults: 10s timeout,
// 3 attempts, 1s between attempts.
func NewClient(opts Options) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		timeout:    opts.Timeout,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		http:       opts.HTTPClient,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryDelay < 0 {
		c.retryDelay = 0
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c
}

// Get sends a GET request and returns the raw JSON body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, path, u, nil)
}

// Post sends body as JSON and returns the raw JSON body.
func (c *Client) Post(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, c.baseURL+path, data)
}

func (c *Client) do(ctx context.Context, method, path, u string, body []byte) (json.RawMessage, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		raw, err := c.attempt(ctx, method, u, body)
		if err == nil {
			return raw, nil
		}
		var apiErr *Error
		if errors.As(err, &apiErr) {
			apiErr.Method, apiErr.Path = method, path
			if !apiErr.Temporary() {
				return nil, apiErr
			}
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, path, err)
		}
		lastErr = err

		if attempt < c.maxRetries {
			slog.Warn("Upstream request failed, retrying",
				"method", method,
				"path", path,
				"attempt", attempt,
				"max_retries", c.maxRetries,
				"error", err)
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%s %s: %w", method, path, context.Cause(ctx))
			}
		}
	}
	return nil, fmt.Errorf("%s %s failed after %d attempts: %w", method, path, c.maxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, method, u string, body []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyResponse
	}
	return data, nil
}

// envelopeKeys are the object fields that may wrap a result list.
var envelopeKeys = []string{"data", "results", "items", "content"}

// listOf extracts the result array from raw. It accepts a bare array or an
// envelope object; nested keys (e.g. "hotels") are looked up inside the
// envelope's "data" object. A missing list yields an empty result.
func listOf(raw json.RawMessage, nested ...string) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %w", err)
	}
	for _, key := range append(nested, envelopeKeys...) {
		v, ok := obj[key]
		if !ok || string(v) == "null" {
			continue
		}
		if key == "data" && len(nested) > 0 {
			if inner, err := listOf(v, nested...); err == nil && len(inner) > 0 {
				return inner, nil
			}
		}
		if err := json.Unmarshal(v, &list); err == nil {
			return list, nil
		}
	}
	return nil, nil
}
