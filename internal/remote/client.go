package remote

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

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/httpclient"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout is the default per-request HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default outbound rate limit (requests per second).
	DefaultRateLimit = 20

	// maxBodySize caps how much of a response body is read.
	maxBodySize = 1 << 20
)

// Client is the entitlement platform API client. It is safe for concurrent use;
// per-credential state lives in Session.
type Client struct {
	baseURL    string
	userAgent  string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Its transport and timeout are shared by every session.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets a custom rate limit. Zero or less disables limiting.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) {
		c.userAgent = userAgent
	}
}

// NewClient creates a new API client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		userAgent:  "entitle",
		httpClient: httpclient.NewDefaultHTTPClient(DefaultTimeout),
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Open builds a session for one credential with its own cookie jar and session id.
// No request is made.
func (c *Client) Open(credential string) (*Session, error) {
	httpClient, err := httpclient.NewSessionClient(c.httpClient)
	if err != nil {
		return nil, err
	}

	return &Session{
		client:     c,
		credential: credential,
		sessionID:  strings.ReplaceAll(uuid.NewString(), "-", ""),
		httpClient: httpClient,
	}, nil
}

// ResolveInvite looks up the resource an invite code points at.
func (c *Client) ResolveInvite(ctx context.Context, code string) (*Invite, error) {
	path := "/invites/" + url.PathEscape(code)
	status, body, err := c.do(ctx, c.httpClient, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownInvite, code)
	default:
		return nil, &APIError{StatusCode: status, Message: errorMessage(body), Endpoint: path}
	}

	var invite Invite
	if err := json.Unmarshal(body, &invite); err != nil {
		return nil, fmt.Errorf("failed to decode invite: %w", err)
	}
	if invite.ResourceID == "" {
		return nil, fmt.Errorf("%w: %s has no resource", ErrUnknownInvite, code)
	}
	if invite.Code == "" {
		invite.Code = code
	}
	return &invite, nil
}

// do executes one request and returns the status and the (capped) body.
func (c *Client) do(ctx context.Context, hc *http.Client, method, path, credential string, payload any) (int, []byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if credential != "" {
		req.Header.Set("Authorization", credential)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Int("status_code", resp.StatusCode).
			Msg("Remote API request")
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return resp.StatusCode, body, &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Endpoint:   path,
		}
	}

	return resp.StatusCode, body, nil
}

// parseRetryAfter reads a Retry-After value in (possibly fractional) seconds.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return DefaultRetryAfter
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs < 0 {
		return DefaultRetryAfter
	}
	return time.Duration(secs * float64(time.Second))
}

// IsRateLimited reports whether err carries a rate-limit hint and returns it.
func IsRateLimited(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
