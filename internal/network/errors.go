package network

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// FetchErrorKind classifies why a page could not be retrieved.
type FetchErrorKind string

const (
	KindInvalidURL FetchErrorKind = "invalid_url"
	KindTimeout    FetchErrorKind = "timeout"
	KindHTTPStatus FetchErrorKind = "http_status"
	KindTransport  FetchErrorKind = "transport"
)

// FetchError is returned by Fetcher.Fetch for every failure.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	case KindTimeout:
		return fmt.Sprintf("fetch %s: timed out: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a FetchError caused by a deadline.
func IsTimeout(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTimeout
}

// classifyTransportError maps a client error to timeout or transport kinds.
func classifyTransportError(err error) FetchErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindTransport
}
