package errors

import (
	"fmt"
	"strings"
)

// Config errors

type ErrConfigNotFound struct {
	Path string
}

func (e *ErrConfigNotFound) Error() string {
	return fmt.Sprintf("config file not found: %s", e.Path)
}

type ErrConfigParse struct {
	Err error
}

func (e *ErrConfigParse) Error() string {
	return fmt.Sprintf("failed to parse YAML: %v", e.Err)
}

func (e *ErrConfigParse) Unwrap() error {
	return e.Err
}

type ErrConfigValidation struct {
	Err error
}

func (e *ErrConfigValidation) Error() string {
	return fmt.Sprintf("config validation failed: %v", e.Err)
}

func (e *ErrConfigValidation) Unwrap() error {
	return e.Err
}

// Database errors

type ErrDatabaseOpen struct {
	Path string
	Err  error
}

func (e *ErrDatabaseOpen) Error() string {
	return fmt.Sprintf("failed to open database %s: %v", e.Path, e.Err)
}

func (e *ErrDatabaseOpen) Unwrap() error {
	return e.Err
}

type ErrDatabaseQuery struct {
	Operation string
	Err       error
}

func (e *ErrDatabaseQuery) Error() string {
	return fmt.Sprintf("database query failed for operation %s: %v", e.Operation, e.Err)
}

func (e *ErrDatabaseQuery) Unwrap() error {
	return e.Err
}

// Filesystem errors

type ErrFileRead struct {
	Path string
	Err  error
}

func (e *ErrFileRead) Error() string {
	return fmt.Sprintf("failed to read file %s: %v", e.Path, e.Err)
}

func (e *ErrFileRead) Unwrap() error {
	return e.Err
}

// Server errors

type ErrServerStart struct {
	Addr string
	Err  error
}

func (e *ErrServerStart) Error() string {
	return fmt.Sprintf("failed to start server on %s: %v", e.Addr, e.Err)
}

func (e *ErrServerStart) Unwrap() error {
	return e.Err
}

// Integration errors.
//
// These are the failure kinds surfaced by the Avito transport, token and
// client layers. Each carries a machine-readable Kind() so callers can branch
// without string matching, plus whatever raw material an operator needs to
// diagnose the failure.

// Kind identifies an integration failure category.
type Kind string

const (
	KindProxyUnreachable    Kind = "proxy_unreachable"
	KindUnsupportedProxy    Kind = "unsupported_proxy_protocol"
	KindProxyBlocking       Kind = "proxy_blocking"
	KindInvalidCredentials  Kind = "invalid_credentials"
	KindAuthenticationError Kind = "authentication_failed"
	KindNetworkUnreachable  Kind = "network_unreachable"
	KindRateLimited         Kind = "upstream_rate_limited"
	KindServerError         Kind = "upstream_server_error"
	KindSyncFailed          Kind = "sync_failed"
)

// Kinder is implemented by every integration error.
type Kinder interface {
	Kind() Kind
}

type ErrProxyUnreachable struct {
	Addr string
	Err  error
}

func (e *ErrProxyUnreachable) Error() string {
	return fmt.Sprintf("proxy %s is unreachable: %v", e.Addr, e.Err)
}

func (e *ErrProxyUnreachable) Unwrap() error { return e.Err }
func (e *ErrProxyUnreachable) Kind() Kind    { return KindProxyUnreachable }

type ErrUnsupportedProxyProtocol struct {
	Protocol string
}

func (e *ErrUnsupportedProxyProtocol) Error() string {
	return fmt.Sprintf("unsupported proxy protocol %q: refusing to connect directly", e.Protocol)
}

func (e *ErrUnsupportedProxyProtocol) Kind() Kind { return KindUnsupportedProxy }

// ErrProxyBlocking means the proxy intercepted the request and answered in
// place of the upstream, typically with an HTML block page where JSON was
// expected. RawBody holds a snippet of what the proxy actually returned.
type ErrProxyBlocking struct {
	Endpoint string
	RawBody  string
}

func (e *ErrProxyBlocking) Error() string {
	return fmt.Sprintf("proxy is blocking requests to %s (got non-JSON response); try another proxy provider", e.Endpoint)
}

func (e *ErrProxyBlocking) Kind() Kind { return KindProxyBlocking }

type ErrInvalidCredentials struct {
	ClientID string
}

func (e *ErrInvalidCredentials) Error() string {
	return fmt.Sprintf("avito rejected client_id %s: invalid client credentials", e.ClientID)
}

func (e *ErrInvalidCredentials) Kind() Kind { return KindInvalidCredentials }

// ErrAuthenticationFailed is the catch-all for token acquisition failures
// that are neither clearly credential-related nor clearly proxy-related.
type ErrAuthenticationFailed struct {
	Message string
	RawBody string
	Err     error
}

func (e *ErrAuthenticationFailed) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("authentication failed: %s", e.Message)
	}
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *ErrAuthenticationFailed) Unwrap() error { return e.Err }
func (e *ErrAuthenticationFailed) Kind() Kind    { return KindAuthenticationError }

type ErrNetworkUnreachable struct {
	Endpoint string
	Err      error
}

func (e *ErrNetworkUnreachable) Error() string {
	return fmt.Sprintf("network unreachable for %s: %v", e.Endpoint, e.Err)
}

func (e *ErrNetworkUnreachable) Unwrap() error { return e.Err }
func (e *ErrNetworkUnreachable) Kind() Kind    { return KindNetworkUnreachable }

type ErrRateLimited struct {
	Endpoint   string
	RetryAfter string
}

func (e *ErrRateLimited) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("avito rate limited %s, retry after %s", e.Endpoint, e.RetryAfter)
	}
	return fmt.Sprintf("avito rate limited %s", e.Endpoint)
}

func (e *ErrRateLimited) Kind() Kind { return KindRateLimited }

type ErrUpstreamServer struct {
	Endpoint   string
	StatusCode int
}

func (e *ErrUpstreamServer) Error() string {
	return fmt.Sprintf("avito server error %d on %s", e.StatusCode, e.Endpoint)
}

func (e *ErrUpstreamServer) Kind() Kind { return KindServerError }

// ErrSyncFailed aggregates the failures of an account sync where every
// sub-fetch failed. Partial failures never produce this error.
type ErrSyncFailed struct {
	AccountID string
	Errs      []error
}

func (e *ErrSyncFailed) Error() string {
	parts := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("sync failed for account %s: %s", e.AccountID, strings.Join(parts, "; "))
}

func (e *ErrSyncFailed) Kind() Kind { return KindSyncFailed }

// Unwrap exposes the sub-errors for errors.Is / errors.As traversal.
func (e *ErrSyncFailed) Unwrap() []error { return e.Errs }

// KindOf extracts the integration failure kind from any error in the chain.
// Returns an empty Kind when the error carries none.
func KindOf(err error) Kind {
	for err != nil {
		if k, ok := err.(Kinder); ok {
			return k.Kind()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
