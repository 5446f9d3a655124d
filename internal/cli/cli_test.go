package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avitobridge/avitobridge/internal/avito"
	"github.com/avitobridge/avitobridge/internal/config"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/store"
)

func TestSeedAccountsFromConfig(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := &config.Config{
		Accounts: []config.AccountConfig{
			{
				ID:           "acc-1",
				Name:         "Main shop",
				ClientID:     "client-1",
				ClientSecret: "secret-1",
				Proxy: &config.ProxyEntryConfig{
					Host:     "10.0.0.1",
					Port:     8080,
					Protocol: "http",
					Username: "u",
					Password: "p",
				},
				KeepAlive: config.KeepAliveEntry{Enabled: true, Interval: 10 * time.Minute},
			},
			{
				ID:           "acc-2",
				Name:         "Second shop",
				ClientID:     "client-2",
				ClientSecret: "secret-2",
			},
		},
	}

	require.NoError(t, seedAccountsFromConfig(st, cfg))

	acc, ok := st.GetAccount("acc-1")
	require.True(t, ok)
	assert.Equal(t, "Main shop", acc.Name)
	assert.True(t, acc.KeepAliveEnabled)
	assert.Equal(t, 10*time.Minute, acc.KeepAliveInterval)
	assert.Equal(t, "proxy-acc-1", acc.ProxyID)

	proxyCfg, ok := st.GetProxy("proxy-acc-1")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", proxyCfg.Host)
	require.NotNil(t, proxyCfg.Auth)
	assert.Equal(t, "u", proxyCfg.Auth.Username)

	creds, ok := st.GetCredentials("acc-2")
	require.True(t, ok)
	assert.Equal(t, "client-2", creds.ClientID)

	_, ok = st.GetProxy("proxy-acc-2")
	assert.False(t, ok)
}

func TestSeedAccountsFromConfig_IsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	cfg := &config.Config{
		Accounts: []config.AccountConfig{
			{ID: "acc-1", ClientID: "client-1", ClientSecret: "secret-1"},
		},
	}

	require.NoError(t, seedAccountsFromConfig(st, cfg))
	require.NoError(t, seedAccountsFromConfig(st, cfg))

	assert.Len(t, st.ListAccounts(), 1)
}

func TestBuildStore(t *testing.T) {
	cfg := &config.Config{}
	cfg.Defaults()

	st, err := buildStore(cfg)
	require.NoError(t, err)
	_, ok := st.(*store.MemoryStore)
	assert.True(t, ok)

	cfg.Store.Backend = "sqlite"
	cfg.Store.DBPath = filepath.Join(t.TempDir(), "bridge.db")
	st, err = buildStore(cfg)
	require.NoError(t, err)
	defer st.Close()
	_, ok = st.(*store.SQLiteStore)
	assert.True(t, ok)
}

func TestParseProxyFlag(t *testing.T) {
	checkFlags.Proxy = "10.0.0.1:8080"
	checkFlags.ProxyProtocol = "http"
	checkFlags.ProxyUser = "u"
	checkFlags.ProxyPass = "p"
	defer func() { checkFlags.Proxy = "" }()

	cfg, err := parseProxyFlag()
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "10.0.0.1", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	require.NotNil(t, cfg.Auth)
	assert.Equal(t, "u", cfg.Auth.Username)
}

func TestParseProxyFlag_RejectsBadAddress(t *testing.T) {
	checkFlags.Proxy = "not-an-address"
	defer func() { checkFlags.Proxy = "" }()

	_, err := parseProxyFlag()
	assert.Error(t, err)
}

func TestParseProxyFlag_EmptyMeansDirect(t *testing.T) {
	checkFlags.Proxy = ""

	cfg, err := parseProxyFlag()
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestResolveCheckTarget_FromFlags(t *testing.T) {
	checkFlags.ClientID = "client-1"
	checkFlags.ClientSecret = "secret-1"
	defer func() {
		checkFlags.ClientID = ""
		checkFlags.ClientSecret = ""
	}()

	creds, proxyCfg, err := resolveCheckTarget()
	require.NoError(t, err)
	assert.Equal(t, "client-1", creds.ClientID)
	assert.Nil(t, proxyCfg)
}

func TestResolveCheckTarget_RequiresSomething(t *testing.T) {
	checkFlags.Account = ""
	checkFlags.ClientID = ""
	checkFlags.ClientSecret = ""

	_, _, err := resolveCheckTarget()
	assert.Error(t, err)
}

func TestResolveCheckTarget_FromConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
accounts:
  - id: acc-1
    client_id: client-1
    client_secret: secret-1
    proxy:
      host: 10.0.0.1
      port: 8080
      protocol: socks5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	prevConfig := globalFlags.Config
	globalFlags.Config = path
	checkFlags.Account = "acc-1"
	defer func() {
		globalFlags.Config = prevConfig
		checkFlags.Account = ""
	}()

	creds, proxyCfg, err := resolveCheckTarget()
	require.NoError(t, err)
	assert.Equal(t, "client-1", creds.ClientID)
	require.NotNil(t, proxyCfg)
	assert.Equal(t, models.ProxySOCKS5, proxyCfg.Protocol)
}

func TestLoadServeConfig_MissingFileUsesDefaults(t *testing.T) {
	prevConfig := globalFlags.Config
	globalFlags.Config = filepath.Join(t.TempDir(), "nope.yaml")
	defer func() { globalFlags.Config = prevConfig }()

	cfg, err := loadServeConfig()
	require.NoError(t, err)
	assert.Equal(t, 8411, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestClientPool_CachesAndDropsOnAuthFailure(t *testing.T) {
	var tokenCount int
	unauthorized := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/token":
			tokenCount++
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
		case "/core/v1/accounts/self", "/common/v1/accounts/self":
			if unauthorized {
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			_, _ = w.Write([]byte(`{"id":77,"name":"Shop"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	require.NoError(t, st.SetAccount(&models.Account{ID: "acc-1"}))
	require.NoError(t, st.SetCredentials("acc-1", &models.AccountCredentials{
		AccountID: "acc-1", ClientID: "client-1", ClientSecret: "secret-1",
	}))

	pool := newClientPool(st, func(creds models.AccountCredentials, proxyCfg *models.ProxyConfig) (*avito.ApiClient, error) {
		return avito.NewClient(creds, proxyCfg, avito.WithBaseURL(srv.URL))
	})

	ctx := context.Background()
	require.NoError(t, pool.Ping(ctx, "acc-1"))
	require.NoError(t, pool.Ping(ctx, "acc-1"))
	// The cached client carries its token across pings.
	assert.Equal(t, 1, tokenCount)
	assert.Len(t, pool.clients, 1)

	unauthorized = true
	err := pool.Ping(ctx, "acc-1")
	require.Error(t, err)
	assert.Empty(t, pool.clients)
}

func TestClientPool_UnknownAccount(t *testing.T) {
	pool := newClientPool(store.NewMemoryStore(), nil)
	err := pool.Ping(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestVersionInfo(t *testing.T) {
	info := GetVersionInfo()
	assert.NotEmpty(t, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}
