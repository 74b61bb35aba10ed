// Package httpclient builds the shared *http.Client used for the token, catalog and
// download endpoints.
package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/datallboy/gocdse/internal/infra/config"
)

// Options configures the shared client.
type Options struct {
	// Proxy holds the http/https proxy pair. Empty values fall back to the environment.
	Proxy config.ProxyConfig

	// Timeout bounds dialing, the TLS handshake and waiting for response headers.
	// Bodies are unbounded; product archives run to several GB.
	// Default: 30s
	Timeout time.Duration
}

// New creates an HTTP client. It never sets http.Client.Timeout, since that would cap
// the total time spent streaming a body.
func New(opts Options) (*http.Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	proxy, err := proxyFunc(opts.Proxy)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   opts.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   4,
		// Range requests need raw bytes
		DisableCompression: true,
	}

	return &http.Client{Transport: transport}, nil
}

func proxyFunc(p config.ProxyConfig) (func(*http.Request) (*url.URL, error), error) {
	if p.HTTP == "" && p.HTTPS == "" {
		return http.ProxyFromEnvironment, nil
	}

	var httpProxy, httpsProxy *url.URL
	var err error

	if p.HTTP != "" {
		if httpProxy, err = config.ProxyURL(p.HTTP); err != nil {
			return nil, err
		}
	}
	if p.HTTPS != "" {
		if httpsProxy, err = config.ProxyURL(p.HTTPS); err != nil {
			return nil, err
		}
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" {
			return httpsProxy, nil
		}
		return httpProxy, nil
	}, nil
}
