// File: internal/network/httpclient.go
package network

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"github.com/xkilldash9x/siteprobe-cli/internal/config"
)

// Default transport settings. A probe talks to one origin at a time, so the
// pool stays small.
const (
	DefaultDialTimeout         = 5 * time.Second
	DefaultKeepAliveInterval   = 15 * time.Second
	DefaultTLSHandshakeTimeout = 5 * time.Second
	DefaultRequestTimeout      = 15 * time.Second

	DefaultMaxIdleConns        = 16
	DefaultMaxIdleConnsPerHost = 4
	DefaultIdleConnTimeout     = 30 * time.Second

	// DefaultMaxRedirects matches the net/http default.
	DefaultMaxRedirects = 10
)

// ClientConfig holds the configuration for the HTTP client and transport layers.
type ClientConfig struct {
	UserAgent string
	// Headers are added to every request unless the request already sets them.
	Headers map[string]string

	IgnoreTLSErrors bool
	TLSConfig       *tls.Config

	RequestTimeout      time.Duration
	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	// ResponseHeaderTimeout is zero by default so RequestTimeout bounds the
	// whole exchange, header wait included.
	ResponseHeaderTimeout time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	MaxRedirects int
	ForceHTTP2   bool

	Logger *zap.Logger
}

// NewDefaultClientConfig creates a configuration for polite single-page fetching.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		UserAgent:           config.DefaultUserAgent,
		RequestTimeout:      DefaultRequestTimeout,
		DialTimeout:         DefaultDialTimeout,
		TLSHandshakeTimeout: DefaultTLSHandshakeTimeout,
		MaxIdleConns:        DefaultMaxIdleConns,
		MaxIdleConnsPerHost: DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		MaxRedirects:        DefaultMaxRedirects,
		ForceHTTP2:          true,
		Logger:              zap.NewNop(),
	}
}

// ClientConfigFromNetwork maps the user-facing network settings onto a ClientConfig.
func ClientConfigFromNetwork(nc config.NetworkConfig, logger *zap.Logger) *ClientConfig {
	cc := NewDefaultClientConfig()
	if nc.UserAgent != "" {
		cc.UserAgent = nc.UserAgent
	}
	if nc.Timeout > 0 {
		cc.RequestTimeout = nc.Timeout
	}
	cc.Headers = nc.Headers
	cc.IgnoreTLSErrors = nc.IgnoreTLSErrors
	if logger != nil {
		cc.Logger = logger
	}
	return cc
}

// NewHTTPTransport creates an http.Transport from the configuration. Response
// compression is negotiated by CompressionMiddleware, so the transport's own
// gzip handling is disabled.
func NewHTTPTransport(cfg *ClientConfig) *http.Transport {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: DefaultKeepAliveInterval,
	}
	tlsConfig := configureTLS(cfg)

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		DisableCompression:    true,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}

	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			cfg.Logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	} else if len(tlsConfig.NextProtos) == 0 {
		tlsConfig.NextProtos = []string{"http/1.1"}
	}

	return transport
}

// NewClient builds the shared *http.Client used for every outbound request:
// fixed identity headers, transparent decompression and redirect following
// up to cfg.MaxRedirects hops. The client is safe for concurrent use.
func NewClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}

	var rt http.RoundTripper = NewHTTPTransport(cfg)
	rt = NewCompressionMiddleware(rt)
	rt = &headerTransport{next: rt, userAgent: cfg.UserAgent, headers: cfg.Headers}

	maxRedirects := cfg.MaxRedirects
	return &http.Client{
		Transport: rt,
		Timeout:   cfg.RequestTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
}

// errNilRequest guards the round tripper against misuse.
var errNilRequest = errors.New("nil request")

// headerTransport stamps the configured identity onto outgoing requests.
type headerTransport struct {
	next      http.RoundTripper
	userAgent string
	headers   map[string]string
}

func (h *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errNilRequest
	}
	// RoundTrippers must not mutate the caller's request.
	req = req.Clone(req.Context())
	if h.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	for k, v := range h.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return h.next.RoundTrip(req)
}

// configureTLS returns a TLS configuration with strong defaults, honoring a
// caller supplied base config.
func configureTLS(cfg *ClientConfig) *tls.Config {
	var tlsConfig *tls.Config
	if cfg.TLSConfig != nil {
		tlsConfig = cfg.TLSConfig.Clone()
	} else {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			ClientSessionCache: tls.NewLRUClientSessionCache(64),
		}
	}
	tlsConfig.InsecureSkipVerify = cfg.IgnoreTLSErrors
	return tlsConfig
}
