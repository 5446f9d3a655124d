package diag

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/proxy"
)

func diagCreds() models.AccountCredentials {
	return models.AccountCredentials{AccountID: "acc-1", ClientID: "client-1", ClientSecret: "secret-1"}
}

func proxyFor(t *testing.T, srv *httptest.Server) *models.ProxyConfig {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return &models.ProxyConfig{Host: host, Port: port, Protocol: models.ProxyHTTP}
}

func TestRun_StopsAtUnreachableProxy(t *testing.T) {
	var tokenRequests int32
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenRequests, 1)
	}))
	defer api.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())
	deadProxy := &models.ProxyConfig{Host: "127.0.0.1", Port: addr.Port, Protocol: models.ProxyHTTP}

	runner := NewRunner(logging.NewLogger(), WithBaseURL(api.URL), WithTimeout(2*time.Second))
	report := runner.Run(context.Background(), diagCreds(), deadProxy)

	assert.False(t, report.ProxyReachable)
	assert.False(t, report.APIReachableDirect)
	assert.False(t, report.APIReachableProxied)
	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, strings.ToLower(report.Recommendations[0]), "proxy")
	// Later stages never ran.
	assert.Equal(t, int32(0), atomic.LoadInt32(&tokenRequests))
}

func TestRun_StopsAtInvalidCredentials(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer api.Close()

	runner := NewRunner(logging.NewLogger(), WithBaseURL(api.URL))
	report := runner.Run(context.Background(), diagCreds(), nil)

	assert.False(t, report.APIReachableDirect)
	require.NotEmpty(t, report.Recommendations)
	joined := strings.ToLower(strings.Join(report.Recommendations, " "))
	assert.Contains(t, joined, "client_id")
}

func TestRun_AllStagesPass(t *testing.T) {
	// One server plays every role: token endpoint for direct requests, and an
	// HTTP forward proxy for the probe and the proxied token request. A
	// proxied plain-http request arrives with an absolute URL, so r.URL.Host
	// distinguishes the two.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/token" {
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`{"ip":"203.0.113.10"}`))
	}))
	defer srv.Close()

	prober := proxy.NewProber(logging.NewLogger(), proxy.WithProbeURL("http://probe.test/ip"))
	runner := NewRunner(logging.NewLogger(),
		WithBaseURL(srv.URL),
		WithProber(prober),
	)
	report := runner.Run(context.Background(), diagCreds(), proxyFor(t, srv))

	assert.True(t, report.ProxyReachable)
	assert.True(t, report.APIReachableDirect)
	assert.True(t, report.APIReachableProxied)
	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, strings.ToLower(report.Recommendations[0]), "check out")
}

func TestRun_DistinguishesProxyBlocking(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		proxied := r.URL.Host != ""
		if proxied && r.URL.Path == "/token" {
			// The proxy serves a block page in place of the API.
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html>access denied</html>"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/token" {
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
			return
		}
		_, _ = w.Write([]byte(`{"ip":"203.0.113.10"}`))
	}))
	defer srv.Close()

	prober := proxy.NewProber(logging.NewLogger(), proxy.WithProbeURL("http://probe.test/ip"))
	runner := NewRunner(logging.NewLogger(),
		WithBaseURL(srv.URL),
		WithProber(prober),
	)
	report := runner.Run(context.Background(), diagCreds(), proxyFor(t, srv))

	assert.True(t, report.ProxyReachable)
	assert.True(t, report.APIReachableDirect)
	assert.False(t, report.APIReachableProxied)
	joined := strings.ToLower(strings.Join(report.Recommendations, " "))
	assert.Contains(t, joined, "rotate")
}
