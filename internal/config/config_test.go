package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
version: "1"
server:
  host: 127.0.0.1
  http_port: 9090
avito:
  base_url: https://api.avito.ru
  token_scope: "messenger:read"
keepalive:
  default_interval: 5m
  min_update_floor: 5m
store:
  backend: memory
accounts:
  - id: acc-1
    name: Main shop
    client_id: client-abc
    client_secret: secret-xyz
    proxy:
      host: 10.0.0.5
      port: 8080
      protocol: http
      username: u
      password: p
    keepalive:
      enabled: true
      interval: 10m
`

func TestParse_Sample(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.HTTPPort)
	assert.Equal(t, "https://api.avito.ru", cfg.Avito.BaseURL)
	assert.Equal(t, 5*time.Minute, cfg.KeepAlive.DefaultInterval)

	require.Len(t, cfg.Accounts, 1)
	acc := cfg.Accounts[0]
	assert.Equal(t, "acc-1", acc.ID)
	assert.Equal(t, "client-abc", acc.ClientID)
	require.NotNil(t, acc.Proxy)
	assert.Equal(t, "http", acc.Proxy.Protocol)
	assert.True(t, acc.KeepAlive.Enabled)
	assert.Equal(t, 10*time.Minute, acc.KeepAlive.Interval)
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("version: \"1\"\n"))
	require.NoError(t, err)

	assert.Equal(t, 8411, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "https://api.avito.ru", cfg.Avito.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Avito.RequestTimeout)
	assert.Equal(t, 15*time.Second, cfg.Avito.ProbeTimeout)
	assert.Equal(t, 5*time.Minute, cfg.KeepAlive.DefaultInterval)
	assert.Equal(t, 5*time.Minute, cfg.KeepAlive.MinUpdateFloor)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("server:\n  http_port: [not a port\n"))
	assert.Error(t, err)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"account missing secret", func(c *Config) {
			c.Accounts = []AccountConfig{{ID: "a", ClientID: "id"}}
		}},
		{"duplicate account id", func(c *Config) {
			c.Accounts = []AccountConfig{
				{ID: "a", ClientID: "id", ClientSecret: "s"},
				{ID: "a", ClientID: "id2", ClientSecret: "s2"},
			}
		}},
		{"bad proxy protocol", func(c *Config) {
			c.Accounts = []AccountConfig{{
				ID: "a", ClientID: "id", ClientSecret: "s",
				Proxy: &ProxyEntryConfig{Host: "h", Port: 8080, Protocol: "ftp"},
			}}
		}},
		{"sqlite without path", func(c *Config) {
			c.Store.Backend = "sqlite"
			c.Store.DBPath = ""
		}},
		{"telegram without token", func(c *Config) {
			c.Telegram.Enabled = true
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoader_Load(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	loader := NewLoader(path)
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loader.Get())
}

func TestLoader_MissingFile(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoader_EnvSubstitution(t *testing.T) {
	t.Setenv("TEST_AVITO_SECRET", "from-env")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
accounts:
  - id: acc-1
    client_id: cid
    client_secret: ${TEST_AVITO_SECRET}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := NewLoader(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Accounts[0].ClientSecret)
}

func TestLoader_WatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\n"), 0o600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	loader.SetOnChange(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	require.NoError(t, loader.StartWatcher())
	defer loader.StopWatcher()

	require.NoError(t, os.WriteFile(path, []byte("version: \"2\"\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "2", cfg.Version)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not deliver reload")
	}
}
