package probe

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrUnsupportedScheme is returned for proxy seeds the transport cannot dial.
var ErrUnsupportedScheme = errors.New("unsupported proxy scheme")

// TransportOptions mirror the timeouts the feed client was built with.
type TransportOptions struct {
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	InsecureSkipVerify bool
}

func (o TransportOptions) withDefaults() TransportOptions {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}
	return o
}

// NewDirectTransport returns a transport that never consults a proxy, not even the
// environment one, so direct traffic is really direct.
func NewDirectTransport(opts TransportOptions) *http.Transport {
	opts = opts.withDefaults()
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          32,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}, //nolint:gosec // opt-in
	}
}

// NewProxyTransport returns a transport that sends every request through seed.
// Accepted schemes: http, https, socks5, socks5h.
func NewProxyTransport(seed string, opts TransportOptions) (*http.Transport, error) {
	u, err := ParseProxySeed(seed)
	if err != nil {
		return nil, err
	}
	t := NewDirectTransport(opts)
	t.Proxy = http.ProxyURL(u)
	return t, nil
}

// ParseProxySeed validates a proxy seed URL.
func ParseProxySeed(seed string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(seed))
	if err != nil {
		return nil, fmt.Errorf("parse proxy seed: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("proxy seed %q has no host", seed)
	}
	return u, nil
}
