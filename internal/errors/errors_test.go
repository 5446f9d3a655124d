package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrConfigNotFound(t *testing.T) {
	err := &ErrConfigNotFound{Path: "/etc/avitobridge/config.yaml"}
	assert.Contains(t, err.Error(), "/etc/avitobridge/config.yaml")
}

func TestErrConfigParse_Unwrap(t *testing.T) {
	inner := errors.New("bad indent")
	err := &ErrConfigParse{Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestIntegrationErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{"proxy unreachable", &ErrProxyUnreachable{Addr: "10.0.0.5:8080", Err: errors.New("connection refused")}, KindProxyUnreachable},
		{"unsupported protocol", &ErrUnsupportedProxyProtocol{Protocol: "socks4"}, KindUnsupportedProxy},
		{"proxy blocking", &ErrProxyBlocking{Endpoint: "/token", RawBody: "<html>blocked</html>"}, KindProxyBlocking},
		{"invalid credentials", &ErrInvalidCredentials{ClientID: "abc"}, KindInvalidCredentials},
		{"auth catch-all", &ErrAuthenticationFailed{Message: "unexpected payload"}, KindAuthenticationError},
		{"network unreachable", &ErrNetworkUnreachable{Endpoint: "/token", Err: errors.New("timeout")}, KindNetworkUnreachable},
		{"rate limited", &ErrRateLimited{Endpoint: "/cpa/v2/balanceInfo"}, KindRateLimited},
		{"server error", &ErrUpstreamServer{Endpoint: "/core/v1/items", StatusCode: 503}, KindServerError},
		{"sync failed", &ErrSyncFailed{AccountID: "acc-1", Errs: []error{errors.New("balance failed")}}, KindSyncFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestKindOf_WrappedError(t *testing.T) {
	base := &ErrProxyBlocking{Endpoint: "/token"}
	wrapped := fmt.Errorf("refresh: %w", base)
	assert.Equal(t, KindProxyBlocking, KindOf(wrapped))
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestErrSyncFailed_AggregatesReasons(t *testing.T) {
	err := &ErrSyncFailed{
		AccountID: "acc-7",
		Errs: []error{
			&ErrRateLimited{Endpoint: "/cpa/v2/balanceInfo"},
			&ErrUpstreamServer{Endpoint: "/core/v1/items", StatusCode: 500},
		},
	}
	msg := err.Error()
	assert.Contains(t, msg, "acc-7")
	assert.Contains(t, msg, "rate limited")
	assert.Contains(t, msg, "server error 500")

	var rl *ErrRateLimited
	require.True(t, errors.As(err, &rl))
}

func TestErrProxyBlocking_CarriesRawBody(t *testing.T) {
	err := &ErrProxyBlocking{Endpoint: "/token", RawBody: "<html>402 Payment Required</html>"}
	assert.Equal(t, "<html>402 Payment Required</html>", err.RawBody)
	assert.Contains(t, err.Error(), "another proxy provider")
}
