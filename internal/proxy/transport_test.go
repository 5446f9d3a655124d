package proxy

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/models"
)

func TestBuildTransport_Direct(t *testing.T) {
	transport, err := BuildTransport(nil, Options{})
	require.NoError(t, err)
	require.NotNil(t, transport)
	assert.Nil(t, transport.DialTLSContext)
}

func TestBuildTransport_DirectUTLS(t *testing.T) {
	transport, err := BuildTransport(nil, Options{UTLS: true})
	require.NoError(t, err)
	assert.NotNil(t, transport.DialTLSContext)
}

func TestBuildTransport_HTTP(t *testing.T) {
	cfg := &models.ProxyConfig{
		Host:     "10.0.0.5",
		Port:     8080,
		Protocol: models.ProxyHTTP,
		Auth:     &models.ProxyAuth{Username: "u", Password: "p"},
	}
	transport, err := BuildTransport(cfg, Options{})
	require.NoError(t, err)
	require.NotNil(t, transport.Proxy)

	proxyURL, err := transport.Proxy(&http.Request{})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:8080", proxyURL.Host)
	assert.Equal(t, "u", proxyURL.User.Username())
}

func TestBuildTransport_SOCKS5(t *testing.T) {
	cfg := &models.ProxyConfig{Host: "127.0.0.1", Port: 1080, Protocol: models.ProxySOCKS5}
	transport, err := BuildTransport(cfg, Options{})
	require.NoError(t, err)
	assert.Nil(t, transport.Proxy)
	assert.NotNil(t, transport.DialContext)
}

func TestBuildTransport_SOCKS4Rejected(t *testing.T) {
	cfg := &models.ProxyConfig{Host: "127.0.0.1", Port: 1080, Protocol: models.ProxySOCKS4}
	_, err := BuildTransport(cfg, Options{})
	require.Error(t, err)

	var unsupported *errors.ErrUnsupportedProxyProtocol
	require.True(t, stderrors.As(err, &unsupported))
	assert.Equal(t, "socks4", unsupported.Protocol)
}

func TestBuildTransport_InvalidConfig(t *testing.T) {
	cfg := &models.ProxyConfig{Host: "", Port: 8080, Protocol: models.ProxyHTTP}
	_, err := BuildTransport(cfg, Options{})
	assert.Error(t, err)
}

func TestNewClient_Timeout(t *testing.T) {
	client, err := NewClient(nil, DefaultProbeTimeout, Options{})
	require.NoError(t, err)
	assert.Equal(t, DefaultProbeTimeout, client.Timeout)
}
