package relay

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrLLM is a provider-level failure that is not an HTTP status error.
type ErrLLM struct {
	Provider ProviderID
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-2xx response from a provider endpoint. The body is kept
// verbatim so the router's fallback classifier can inspect it.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrProtocol is an empty or malformed provider response. Always
// fallback-worthy for the router.
type ErrProtocol struct {
	Provider ProviderID
	Message  string
}

func (e *ErrProtocol) Error() string {
	return fmt.Sprintf("%s: protocol: %s", e.Provider, e.Message)
}

// ErrAuth means no usable credential resolved for a provider. The provider
// is dropped from the candidate list.
type ErrAuth struct {
	Provider ProviderID
}

func (e *ErrAuth) Error() string {
	if e.Provider == "" {
		return "no authenticated provider"
	}
	return fmt.Sprintf("%s: no authenticated provider", e.Provider)
}

// ParseRetryAfter parses an HTTP Retry-After header value. Supports both the
// delay-seconds form and the HTTP-date form. Returns 0 when absent or
// unparseable.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, value); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
