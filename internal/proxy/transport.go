package proxy

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	xproxy "golang.org/x/net/proxy"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/models"
)

// Options tune the transports produced by this package.
type Options struct {
	// UTLS swaps the direct-connection TLS handshake for a Chrome
	// fingerprint. Only applies when no proxy is configured.
	UTLS bool
}

// BuildTransport produces an HTTP transport for the given proxy config. A nil
// config yields a direct transport. SOCKS4 has no dialer in our stack, so it
// is rejected outright: connecting directly instead would leak account
// traffic outside the proxy, and Avito accounts are usually IP-pinned.
func BuildTransport(cfg *models.ProxyConfig, opts Options) (*http.Transport, error) {
	if cfg == nil {
		return directTransport(opts.UTLS), nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Protocol {
	case models.ProxyHTTP:
		return &http.Transport{
			Proxy: http.ProxyURL(cfg.URL()),
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}, nil

	case models.ProxySOCKS5:
		var auth *xproxy.Auth
		if cfg.Auth != nil {
			auth = &xproxy.Auth{User: cfg.Auth.Username, Password: cfg.Auth.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", cfg.Addr(), auth, xproxy.Direct)
		if err != nil {
			return nil, &errors.ErrProxyUnreachable{Addr: cfg.Addr(), Err: err}
		}
		dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
			if cd, ok := dialer.(xproxy.ContextDialer); ok {
				return cd.DialContext(ctx, network, addr)
			}
			return dialer.Dial(network, addr)
		}
		return &http.Transport{
			DialContext:         dial,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}, nil

	case models.ProxySOCKS4:
		return nil, &errors.ErrUnsupportedProxyProtocol{Protocol: string(cfg.Protocol)}

	default:
		return nil, &errors.ErrUnsupportedProxyProtocol{Protocol: string(cfg.Protocol)}
	}
}

// NewClient wraps BuildTransport in an *http.Client with a bounded timeout.
func NewClient(cfg *models.ProxyConfig, timeout time.Duration, opts Options) (*http.Client, error) {
	transport, err := BuildTransport(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}, nil
}

func directTransport(useUTLS bool) *http.Transport {
	if !useUTLS {
		return &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout: 10 * time.Second,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host := addr
			if strings.Contains(addr, ":") {
				host, _, _ = net.SplitHostPort(addr)
			}
			config := &utls.Config{
				ServerName: host,
				NextProtos: []string{"h2", "http/1.1"},
			}
			uconn := utls.UClient(rawConn, config, utls.HelloChrome_120)
			if err := uconn.Handshake(); err != nil {
				_ = rawConn.Close()
				return nil, err
			}
			return uconn, nil
		},
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
}
