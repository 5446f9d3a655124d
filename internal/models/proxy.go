package models

import (
	"fmt"
	"net/url"
	"strconv"
)

// ProxyProtocol enumerates the proxy protocols the transport layer accepts.
type ProxyProtocol string

const (
	ProxyHTTP   ProxyProtocol = "http"
	ProxySOCKS4 ProxyProtocol = "socks4"
	ProxySOCKS5 ProxyProtocol = "socks5"
)

// ProxyAuth is the optional username/password pair for an authenticated proxy.
type ProxyAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ProxyConfig describes one upstream proxy. A nil *ProxyConfig means a direct
// connection. The config is immutable for the lifetime of a client instance.
type ProxyConfig struct {
	ID       string        `json:"id,omitempty"`
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Protocol ProxyProtocol `json:"protocol"`
	Auth     *ProxyAuth    `json:"auth,omitempty"`
}

// Validate checks the config is well-formed.
func (p *ProxyConfig) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("proxy host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("proxy port %d is out of range", p.Port)
	}
	switch p.Protocol {
	case ProxyHTTP, ProxySOCKS4, ProxySOCKS5:
		return nil
	default:
		return fmt.Errorf("unknown proxy protocol %q", p.Protocol)
	}
}

// Addr returns the host:port pair.
func (p *ProxyConfig) Addr() string {
	return p.Host + ":" + strconv.Itoa(p.Port)
}

// URL renders the proxy as a URL, including credentials when present.
func (p *ProxyConfig) URL() *url.URL {
	u := &url.URL{
		Scheme: string(p.Protocol),
		Host:   p.Addr(),
	}
	if p.Auth != nil {
		u.User = url.UserPassword(p.Auth.Username, p.Auth.Password)
	}
	return u
}

// Redacted returns a display string without the password.
func (p *ProxyConfig) Redacted() string {
	if p == nil {
		return "direct"
	}
	if p.Auth != nil {
		return fmt.Sprintf("%s://%s:****@%s", p.Protocol, p.Auth.Username, p.Addr())
	}
	return fmt.Sprintf("%s://%s", p.Protocol, p.Addr())
}
