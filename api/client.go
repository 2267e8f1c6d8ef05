package api

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
	"strings"
	"time"

	"github.com/jpalmerr/sitewatch/internal/metrics"
)

const maxResponseBodySize = 1 << 20 // 1MB

var errBodyTooLarge = errors.New("response body exceeds 1MB limit")

// DefaultTimeout bounds every request unless [WithTimeout] overrides it.
const DefaultTimeout = 10 * time.Second

// connection pooling limits; a dashboard talks to a single backend host
const (
	defaultMaxIdleConns        = 10
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 60 * time.Second
)

// Client is a typed client for the monitoring service's REST API.
//
// Client applies its timeout per request via context rather than a global
// http.Client timeout, so a caller's own deadline still wins when shorter.
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a [Client] for the API rooted at baseURL, for example
// "http://localhost:8080/api". A trailing slash is ignored.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
		httpClient: &http.Client{
			// no default timeout - per-request timeouts via context
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the API root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchSites returns every site with its latest probe information.
func (c *Client) FetchSites(ctx context.Context) ([]Site, error) {
	var resp sitesResponse
	if err := c.request(ctx, "fetch sites", http.MethodGet, "/sites", nil, &resp); err != nil {
		return nil, err
	}
	if resp.Sites == nil {
		return []Site{}, nil
	}
	return resp.Sites, nil
}

// FetchStats returns the aggregate statistics snapshot.
func (c *Client) FetchStats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.request(ctx, "fetch stats", http.MethodGet, "/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// FetchLogs returns one page of log entries, most recent first.
func (c *Client) FetchLogs(ctx context.Context, q LogQuery) (*LogPage, error) {
	path := "/logs"
	params := url.Values{}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}
	if q.SiteID != 0 {
		params.Set("site_id", strconv.FormatUint(uint64(q.SiteID), 10))
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var resp LogPage
	if err := c.request(ctx, "fetch logs", http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Logs == nil {
		resp.Logs = []LogEntry{}
	}
	return &resp, nil
}

// FetchMonitorStatus reports whether the probing engine is running.
func (c *Client) FetchMonitorStatus(ctx context.Context) (*MonitorStatus, error) {
	var resp MonitorStatus
	if err := c.request(ctx, "fetch monitor status", http.MethodGet, "/monitor/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateSite registers a new site. name and url are sent as given; callers
// validate and normalize them first.
func (c *Client) CreateSite(ctx context.Context, name, siteURL string) (*Site, error) {
	body := CreateSiteRequest{Name: name, URL: siteURL}
	var raw json.RawMessage
	if err := c.request(ctx, "create site", http.MethodPost, "/sites", body, &raw); err != nil {
		return nil, err
	}
	return decodeSite("create site", raw)
}

// DeleteSite removes a site.
func (c *Client) DeleteSite(ctx context.Context, id uint) error {
	return c.request(ctx, "delete site", http.MethodDelete, "/sites/"+formatID(id), nil, nil)
}

// ToggleSite flips a site's active flag and returns the updated site.
func (c *Client) ToggleSite(ctx context.Context, id uint) (*Site, error) {
	var raw json.RawMessage
	if err := c.request(ctx, "toggle site", http.MethodPut, "/sites/"+formatID(id)+"/toggle", nil, &raw); err != nil {
		return nil, err
	}
	return decodeSite("toggle site", raw)
}

// CheckNow asks the engine to probe a site immediately. Success means the
// request was accepted; the probe result may be committed later.
func (c *Client) CheckNow(ctx context.Context, id uint) (*CheckResult, error) {
	var resp CheckResult
	if err := c.request(ctx, "check site", http.MethodPost, "/monitor/check/"+formatID(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Close closes idle connections. The client remains usable afterwards.
func (c *Client) Close() {
	if c == nil || c.httpClient == nil {
		return
	}
	c.httpClient.CloseIdleConnections()
}

// request performs one API call. Transport failures become *NetworkError;
// non-2xx responses and unusable 2xx bodies become *APIError.
func (c *Client) request(ctx context.Context, op, method, path string, body, result any) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveRequest(op, time.Since(start), errorKind(err)) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize+1))
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("read response body: %w", err)}
	}
	if len(data) > maxResponseBodySize {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: errBodyTooLarge}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Op: op, StatusCode: resp.StatusCode}
		var errResp ErrorResponse
		if json.Unmarshal(data, &errResp) == nil {
			apiErr.Message = errResp.Error
		}
		return apiErr
	}

	if result == nil || resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func decodeSite(op string, raw json.RawMessage) (*Site, error) {
	if len(raw) == 0 {
		return nil, &APIError{Op: op, StatusCode: http.StatusOK, Err: errors.New("empty response")}
	}
	var env siteEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Site != nil {
		return env.Site, nil
	}
	var site Site
	if err := json.Unmarshal(raw, &site); err != nil {
		return nil, &APIError{Op: op, StatusCode: http.StatusOK, Err: fmt.Errorf("decode site: %w", err)}
	}
	return &site, nil
}

func formatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// errorKind labels err for request metrics.
func errorKind(err error) string {
	if err == nil {
		return "ok"
	}
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return "timeout"
		}
		return "network"
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Err == nil {
		return "api"
	}
	return "decode"
}
