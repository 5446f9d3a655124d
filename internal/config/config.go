package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
type Config struct {
	Version   string          `yaml:"version"`
	Server    ServerConfig    `yaml:"server"`
	API       APIConfig       `yaml:"api"`
	Avito     AvitoConfig     `yaml:"avito"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Store     StoreConfig     `yaml:"store"`
	Accounts  []AccountConfig `yaml:"accounts,omitempty"`
}

// ServerConfig contains server-related configuration.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	HTTPPort        int           `yaml:"http_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`
	LogFormat       string        `yaml:"log_format"`
}

// APIConfig contains API-related configuration.
type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	BasePath  string          `yaml:"base_path"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// AuthConfig contains authentication configuration.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	APIKeys    []string `yaml:"api_keys"`
	HeaderName string   `yaml:"header_name"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// AvitoConfig contains the Avito platform endpoints and timeouts.
type AvitoConfig struct {
	BaseURL        string        `yaml:"base_url"`
	TokenScope     string        `yaml:"token_scope"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	// ProbeURL is the unauthenticated IP-echo endpoint used for proxy
	// reachability checks.
	ProbeURL string `yaml:"probe_url"`
	// UTLS enables a Chrome-fingerprint TLS handshake on direct connections.
	UTLS bool `yaml:"utls"`
}

// KeepAliveConfig contains the eternal-online scheduler settings.
type KeepAliveConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	// MinUpdateFloor caps the effective tick rate regardless of the
	// configured interval. Ticks closer together than the floor are skipped.
	MinUpdateFloor time.Duration `yaml:"min_update_floor"`
}

// TelegramConfig contains the operator notification bot settings.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

// AlertsConfig contains alert throttling settings.
type AlertsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RatePerMinute int           `yaml:"rate_per_minute"`
	DedupWindow   time.Duration `yaml:"dedup_window"`
}

// StoreConfig contains persistence settings.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`
	DBPath  string `yaml:"db_path"`
}

// AccountConfig declares one account in the config file. Accounts may also be
// managed at runtime through the API; config-file accounts are seeded on boot.
type AccountConfig struct {
	ID           string            `yaml:"id"`
	Name         string            `yaml:"name"`
	ClientID     string            `yaml:"client_id"`
	ClientSecret string            `yaml:"client_secret"`
	Proxy        *ProxyEntryConfig `yaml:"proxy,omitempty"`
	KeepAlive    KeepAliveEntry    `yaml:"keepalive"`
}

// ProxyEntryConfig declares an upstream proxy for one account.
type ProxyEntryConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Protocol string `yaml:"protocol"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// KeepAliveEntry is the per-account keep-alive toggle.
type KeepAliveEntry struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval,omitempty"`
}

// Defaults fills zero values with sane defaults.
func (c *Config) Defaults() {
	if c.Server.HTTPPort == 0 {
		c.Server.HTTPPort = 8411
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "json"
	}
	if c.Avito.BaseURL == "" {
		c.Avito.BaseURL = "https://api.avito.ru"
	}
	if c.Avito.RequestTimeout == 0 {
		c.Avito.RequestTimeout = 30 * time.Second
	}
	if c.Avito.ProbeTimeout == 0 {
		c.Avito.ProbeTimeout = 15 * time.Second
	}
	if c.Avito.ProbeURL == "" {
		c.Avito.ProbeURL = "https://api.ipify.org?format=json"
	}
	if c.KeepAlive.DefaultInterval == 0 {
		c.KeepAlive.DefaultInterval = 5 * time.Minute
	}
	if c.KeepAlive.MinUpdateFloor == 0 {
		c.KeepAlive.MinUpdateFloor = 5 * time.Minute
	}
	if c.Alerts.RatePerMinute == 0 {
		c.Alerts.RatePerMinute = 30
	}
	if c.Alerts.DedupWindow == 0 {
		c.Alerts.DedupWindow = 15 * time.Minute
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "memory"
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range", c.Server.HTTPPort)
	}
	if c.Avito.RequestTimeout < 0 {
		return fmt.Errorf("avito.request_timeout cannot be negative")
	}
	if c.KeepAlive.DefaultInterval < 0 {
		return fmt.Errorf("keepalive.default_interval cannot be negative")
	}
	switch c.Store.Backend {
	case "", "memory":
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("store.db_path is required for sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	seen := make(map[string]bool, len(c.Accounts))
	for i := range c.Accounts {
		acc := &c.Accounts[i]
		if acc.ID == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if seen[acc.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, acc.ID)
		}
		seen[acc.ID] = true
		if acc.ClientID == "" || acc.ClientSecret == "" {
			return fmt.Errorf("account %s: client_id and client_secret are required", acc.ID)
		}
		if p := acc.Proxy; p != nil {
			if p.Host == "" || p.Port <= 0 || p.Port > 65535 {
				return fmt.Errorf("account %s: invalid proxy address", acc.ID)
			}
			switch p.Protocol {
			case "http", "socks4", "socks5":
			default:
				return fmt.Errorf("account %s: unknown proxy protocol %q", acc.ID, p.Protocol)
			}
		}
	}
	return nil
}
