// Package errs defines the error kinds shared across the scraping runtime.
// Adapters and the HTTP client return these so callers can decide between
// retry, skip, and abort without string matching.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for sources fed by an external collector process.
var (
	ErrExternalFeedMissing = errors.New("external feed has produced no snapshot")
	ErrExternalFeedStale   = errors.New("external feed snapshot is stale")
)

// ConfigError is fatal at startup: a missing secret or malformed config file.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config: %s: %s", e.Field, e.Msg)
	}
	return "config: " + e.Msg
}

// APIError is a non-retryable HTTP failure from an upstream marketplace.
type APIError struct {
	Source string
	Status int
	URL    string
	Body   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: HTTP %d from %s: %s", e.Source, e.Status, e.URL, e.Body)
	}
	return fmt.Sprintf("%s: request to %s failed: %v", e.Source, e.URL, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// RateLimitError signals HTTP 429 or provider-side throttling.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Source, e.RetryAfter)
	}
	return e.Source + ": rate limited"
}

// ParseError means an upstream payload did not match the expected shape.
type ParseError struct {
	Source string
	Msg    string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse: %s", e.Source, e.Msg)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError marks a normalized item that failed invariants; the item
// is dropped and the error logged at warning.
type ValidationError struct {
	Source string
	Item   string
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid item %q: %s", e.Source, e.Item, e.Msg)
}

// ProxyKind classifies proxy-layer failures.
type ProxyKind int

const (
	ProxyAuth ProxyKind = iota
	ProxyConnection
	ProxyNoneAvailable
)

// ProxyError covers upstream-provider and proxy-transport failures.
type ProxyError struct {
	Kind ProxyKind
	Msg  string
	Err  error
}

func (e *ProxyError) Error() string {
	switch e.Kind {
	case ProxyAuth:
		return "proxy: authentication rejected: " + e.Msg
	case ProxyNoneAvailable:
		return "proxy: no proxies available"
	default:
		return "proxy: connection failed: " + e.Msg
	}
}

func (e *ProxyError) Unwrap() error { return e.Err }

// CacheError is a disk-tier I/O failure; the cache degrades to memory-only.
type CacheError struct {
	Op   string
	Path string
	Err  error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }
