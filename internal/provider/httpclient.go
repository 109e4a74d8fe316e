package provider

import (
	"net"
	"net/http"
	"time"
)

const defaultHTTPTimeout = 120 * time.Second

// SharedHTTPClient returns an HTTP client with connection pooling for
// non-streaming calls.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: sharedTransport(timeout),
	}
}

// StreamingHTTPClient returns a client without an overall deadline: a token
// stream may legitimately outlive any fixed timeout, so only the response
// headers are bounded and cancellation happens through the request context.
func StreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = defaultHTTPTimeout
	}
	return &http.Client{
		Transport: sharedTransport(headerTimeout),
	}
}

func sharedTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
