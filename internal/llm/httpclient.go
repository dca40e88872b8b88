package llm

import (
	"net"
	"net/http"
	"time"
)

const defaultRequestTimeout = 120 * time.Second

// newModelClient returns the HTTP client shared by one provider. timeout
// bounds a whole model call; zero means defaultRequestTimeout.
func newModelClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: timeout / 2,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
			MaxConnsPerHost:       8,
			ForceAttemptHTTP2:     true,
		},
	}
}
