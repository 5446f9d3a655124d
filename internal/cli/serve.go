package cli

import (
	"context"
	stderrors "errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/avitobridge/avitobridge/internal/alerts"
	"github.com/avitobridge/avitobridge/internal/api"
	"github.com/avitobridge/avitobridge/internal/avito"
	"github.com/avitobridge/avitobridge/internal/config"
	"github.com/avitobridge/avitobridge/internal/diag"
	briderrors "github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/keepalive"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/metrics"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/proxy"
	"github.com/avitobridge/avitobridge/internal/store"
	"github.com/avitobridge/avitobridge/internal/telegram"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s", "server", "run"},
	Short:   "Start the AvitoBridge server",
	Long: `Start the AvitoBridge server in main mode.

This command starts the HTTP server that manages Avito accounts: token
refresh, keep-alive pings, data sync, and connection diagnostics.

Example:
  avitobridge serve --config config.yaml --db ./data/avitobridge.db

The server listens on the address configured in the config file.`,
	RunE: runServe,
}

var serveFlags struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.Host, "host", "", "Server host (overrides config)")
	serveCmd.Flags().IntVar(&serveFlags.Port, "port", 0, "Server port (overrides config)")
	serveCmd.Flags().DurationVar(&serveFlags.Timeout, "timeout", 30*time.Second, "Shutdown timeout")

	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return err
	}
	applyServeFlags(cfg, cmd)

	logger := logging.NewLogger(
		logging.WithLevel(logging.LogLevel(cfg.Server.LogLevel)),
		logging.WithService("avitobridge"),
	)

	st, err := buildStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	if err := seedAccountsFromConfig(st, cfg); err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to seed accounts from config: %w", err)
	}

	m := metrics.NewMetrics("avitobridge")
	transportOpts := proxy.Options{UTLS: cfg.Avito.UTLS}

	factory := clientFactory(cfg, logger, m, transportOpts)
	pool := newClientPool(st, factory)

	if cfg.Telegram.Enabled && !cfg.Alerts.Enabled {
		cfg.Alerts.Enabled = true
	}

	var notifier alerts.Notifier
	if cfg.Telegram.Enabled && cfg.Alerts.Enabled {
		tg, err := telegram.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			return fmt.Errorf("telegram setup failed: %w", err)
		}
		notifier = tg
		logger.Info("telegram notifications enabled", "chat_id", cfg.Telegram.ChatID)
	}

	// The alert service doubles as the scheduler's event sink: it persists
	// status transitions even when no notifier is configured.
	alertSvc := alerts.NewService(st, notifier, logger,
		alerts.WithDedupWindow(cfg.Alerts.DedupWindow),
		alerts.WithThrottle(cfg.Alerts.RatePerMinute, cfg.Alerts.RatePerMinute),
	)

	scheduler := keepalive.NewScheduler(keepalive.NewRegistry(), pool, alertSvc, logger,
		keepalive.WithDefaultInterval(cfg.KeepAlive.DefaultInterval),
		keepalive.WithMinUpdateFloor(cfg.KeepAlive.MinUpdateFloor),
		keepalive.WithMetrics(m),
	)
	scheduler.InitializeFromPersistedState(persistedAccounts(st))

	prober := proxy.NewProber(logger,
		proxy.WithProbeURL(cfg.Avito.ProbeURL),
		proxy.WithProbeTimeout(cfg.Avito.ProbeTimeout),
		proxy.WithTransportOptions(transportOpts),
		proxy.WithProbeMetrics(m),
	)
	runner := diag.NewRunner(logger,
		diag.WithBaseURL(cfg.Avito.BaseURL),
		diag.WithProber(prober),
		diag.WithTransportOptions(transportOpts),
	)

	server := api.NewServer(cfg.Server, cfg.API, st, scheduler, runner, factory, m, logger)
	server.SetAlertReporter(alertSvc)

	loader := config.NewLoader(globalFlags.Config)
	loader.SetOnChange(func(next *config.Config) {
		logger.Info("configuration file changed, re-seeding accounts")
		if err := seedAccountsFromConfig(st, next); err != nil {
			logger.Error("config reload failed", "error", err.Error())
			return
		}
		scheduler.InitializeFromPersistedState(persistedAccounts(st))
	})
	if err := loader.StartWatcher(); err != nil {
		logger.Warn("config watcher unavailable", "error", err.Error())
	}
	defer loader.StopWatcher()

	go func() {
		sig := api.WaitForSignal(api.SetupSignalHandler())
		logger.Info("shutdown signal received", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), serveFlags.Timeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err.Error())
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	log.Printf("Starting AvitoBridge HTTP server on %s", addr)

	if err := server.Run(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// loadServeConfig reads the config file; a missing file falls back to
// defaults so the server can run zero-config.
func loadServeConfig() (*config.Config, error) {
	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err != nil {
		var notFound *briderrors.ErrConfigNotFound
		if stderrors.As(err, &notFound) {
			if globalFlags.Verbose {
				log.Printf("No config file at %s, using defaults", globalFlags.Config)
			}
			cfg = &config.Config{}
			cfg.Defaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func applyServeFlags(cfg *config.Config, cmd *cobra.Command) {
	if serveFlags.Host != "" {
		cfg.Server.Host = serveFlags.Host
	}
	if serveFlags.Port != 0 {
		cfg.Server.HTTPPort = serveFlags.Port
	}
	if cmd != nil && !cmd.Flags().Changed("timeout") && cfg.Server.ShutdownTimeout > 0 {
		serveFlags.Timeout = cfg.Server.ShutdownTimeout
	}
}

func buildStore(cfg *config.Config) (store.Store, error) {
	backend := cfg.Store.Backend
	dbPath := cfg.Store.DBPath
	if dbPath == "" {
		dbPath = globalFlags.DBPath
	}
	switch backend {
	case "sqlite":
		return store.NewSQLiteStore(dbPath)
	default:
		return store.NewMemoryStore(), nil
	}
}

func clientFactory(cfg *config.Config, logger *logging.Logger, m *metrics.Metrics, transportOpts proxy.Options) api.ClientFactory {
	return func(creds models.AccountCredentials, proxyCfg *models.ProxyConfig) (*avito.ApiClient, error) {
		return avito.NewClient(creds, proxyCfg,
			avito.WithBaseURL(cfg.Avito.BaseURL),
			avito.WithScope(cfg.Avito.TokenScope),
			avito.WithTimeout(cfg.Avito.RequestTimeout),
			avito.WithLogger(logger),
			avito.WithMetrics(m),
			avito.WithTransportOptions(transportOpts),
		)
	}
}

func persistedAccounts(st store.Store) []models.Account {
	list := st.ListAccounts()
	out := make([]models.Account, 0, len(list))
	for _, acc := range list {
		out = append(out, *acc)
	}
	return out
}

// clientPool caches one ApiClient per account so keep-alive ticks reuse the
// cached token instead of re-authenticating every ping. Entries are dropped
// when a ping fails with an auth error, forcing a rebuild with fresh
// credentials from the store.
type clientPool struct {
	mu      sync.Mutex
	store   store.Store
	factory api.ClientFactory
	clients map[string]*avito.ApiClient
}

func newClientPool(st store.Store, factory api.ClientFactory) *clientPool {
	return &clientPool{
		store:   st,
		factory: factory,
		clients: make(map[string]*avito.ApiClient),
	}
}

// Ping keeps an account session warm by fetching its profile through the
// account's configured transport.
func (p *clientPool) Ping(ctx context.Context, accountID string) error {
	client, err := p.get(accountID)
	if err != nil {
		return err
	}
	if _, err := client.GetAccountInfo(ctx); err != nil {
		kind := briderrors.KindOf(err)
		if kind == briderrors.KindInvalidCredentials || kind == briderrors.KindAuthenticationError {
			p.drop(accountID)
		}
		return err
	}
	return nil
}

func (p *clientPool) get(accountID string) (*avito.ApiClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if client, ok := p.clients[accountID]; ok {
		return client, nil
	}

	creds, ok := p.store.GetCredentials(accountID)
	if !ok {
		return nil, fmt.Errorf("account %s has no stored credentials", accountID)
	}
	acc, ok := p.store.GetAccount(accountID)
	if !ok {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	var proxyCfg *models.ProxyConfig
	if acc.ProxyID != "" {
		proxyCfg, ok = p.store.GetProxy(acc.ProxyID)
		if !ok {
			return nil, fmt.Errorf("account %s references missing proxy %s", accountID, acc.ProxyID)
		}
	}

	client, err := p.factory(*creds, proxyCfg)
	if err != nil {
		return nil, err
	}
	p.clients[accountID] = client
	return client, nil
}

func (p *clientPool) drop(accountID string) {
	p.mu.Lock()
	delete(p.clients, accountID)
	p.mu.Unlock()
}
