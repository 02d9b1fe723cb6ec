package httpclient

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewSessionClient creates an HTTP client with its own cookie jar. The transport
// and timeout are shared with base so every session reuses one connection pool.
func NewSessionClient(base *http.Client) (*http.Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: 30 * time.Second,
	}
	if base != nil {
		client.Transport = base.Transport
		client.Timeout = base.Timeout
		client.CheckRedirect = base.CheckRedirect
	}
	return client, nil
}
