// File: internal/network/fetch.go
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/siteprobe-cli/internal/config"
)

// FetchResult is an immutable snapshot of one HTTP exchange.
type FetchResult struct {
	// URL is the address that was requested.
	URL string `json:"url"`
	// FinalURL is the address after redirects.
	FinalURL   string `json:"final_url"`
	StatusCode int    `json:"status_code"`
	// Headers holds the response headers with lowercased names. Repeated
	// headers are joined with ", ".
	Headers        map[string]string `json:"response_headers"`
	RequestHeaders map[string]string `json:"request_headers"`
	// Header is the raw response header set, kept for signature matching.
	Header    http.Header   `json:"-"`
	Body      []byte        `json:"-"`
	Truncated bool          `json:"truncated,omitempty"`
	FetchedAt time.Time     `json:"fetched_at"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Doer is the part of *http.Client the fetcher needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetcher retrieves single pages over one reusable client.
type Fetcher struct {
	client    Doer
	limiter   *rate.Limiter
	maxBody   int64
	userAgent string
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher from the network settings. A RateLimit of zero
// disables client-side pacing.
func NewFetcher(cfg config.NetworkConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("fetcher")
	cc := ClientConfigFromNetwork(cfg, logger)
	return NewFetcherWithClient(NewClient(cc), cfg, logger)
}

// NewFetcherWithClient builds a Fetcher on top of an existing client.
func NewFetcherWithClient(client Doer, cfg config.NetworkConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		client:    client,
		maxBody:   cfg.MaxBodyBytes,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
	if f.maxBody <= 0 {
		f.maxBody = 10 << 20
	}
	if f.userAgent == "" {
		f.userAgent = config.DefaultUserAgent
	}
	if cfg.RateLimit > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return f
}

// NormalizeURL trims the input and prepends http:// when no scheme is given.
// Only absolute http and https URLs are accepted.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return u, nil
}

// Fetch issues a GET for rawURL. Status codes of 400 and above are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*FetchResult, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, &FetchError{Kind: KindInvalidURL, URL: rawURL, Err: err}
	}
	address := target.String()

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, &FetchError{Kind: classifyTransportError(err), URL: address, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)
	if err != nil {
		return nil, &FetchError{Kind: KindInvalidURL, URL: address, Err: err}
	}
	req.Header.Set("User-Agent", f.userAgent)

	start := time.Now()
	f.logger.Debug("Fetching page.", zap.String("url", address))

	resp, err := f.client.Do(req)
	if err != nil {
		kind := classifyTransportError(err)
		f.logger.Warn("Fetch failed.", zap.String("url", address), zap.String("kind", string(kind)), zap.Error(err))
		return nil, &FetchError{Kind: kind, URL: address, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4<<10)
		f.logger.Warn("Fetch returned error status.", zap.String("url", address), zap.Int("status", resp.StatusCode))
		return nil, &FetchError{
			Kind:       KindHTTPStatus,
			URL:        address,
			StatusCode: resp.StatusCode,
			Err:        errors.New(resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, &FetchError{Kind: classifyTransportError(err), URL: address, Err: fmt.Errorf("reading body: %w", err)}
	}
	truncated := int64(len(body)) > f.maxBody
	if truncated {
		body = body[:f.maxBody]
		f.logger.Warn("Response body truncated.", zap.String("url", address), zap.Int64("limit", f.maxBody))
	}

	finalURL := address
	requestHeader := req.Header
	if resp.Request != nil {
		if resp.Request.URL != nil {
			finalURL = resp.Request.URL.String()
		}
		if resp.Request.Header != nil {
			requestHeader = resp.Request.Header
		}
	}

	result := &FetchResult{
		URL:            address,
		FinalURL:       finalURL,
		StatusCode:     resp.StatusCode,
		Headers:        FlattenHeader(resp.Header),
		RequestHeaders: FlattenHeader(requestHeader),
		Header:         resp.Header.Clone(),
		Body:           body,
		Truncated:      truncated,
		FetchedAt:      start.UTC(),
		Elapsed:        time.Since(start),
	}
	f.logger.Info("Fetched page.",
		zap.String("url", address),
		zap.String("final_url", finalURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// FlattenHeader lowercases header names and joins repeated values.
func FlattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		if prev, ok := out[key]; ok {
			out[key] = prev + ", " + strings.Join(values, ", ")
			continue
		}
		out[key] = strings.Join(values, ", ")
	}
	return out
}
