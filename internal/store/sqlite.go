package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/avitobridge/avitobridge/internal/errors"
	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/models"
)

// SQLiteStore persists the registry in a single SQLite file with WAL mode,
// safe for concurrent access.
type SQLiteStore struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs
// migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=cache_size(2000)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logging.NewLogger()}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	err = db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS accounts (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					enabled INTEGER NOT NULL DEFAULT 0,
					keep_alive_enabled INTEGER NOT NULL DEFAULT 0,
					keep_alive_interval_seconds INTEGER NOT NULL DEFAULT 0,
					proxy_id TEXT NOT NULL DEFAULT '',
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				);
				CREATE TABLE IF NOT EXISTS credentials (
					account_id TEXT PRIMARY KEY REFERENCES accounts(id) ON DELETE CASCADE,
					client_id TEXT NOT NULL,
					client_secret TEXT NOT NULL
				);
				CREATE TABLE IF NOT EXISTS proxies (
					id TEXT PRIMARY KEY,
					host TEXT NOT NULL,
					port INTEGER NOT NULL,
					protocol TEXT NOT NULL,
					username TEXT NOT NULL DEFAULT '',
					password TEXT NOT NULL DEFAULT ''
				);
			`,
		},
		{
			version: 2,
			up: `
				CREATE TABLE IF NOT EXISTS account_statuses (
					account_id TEXT PRIMARY KEY,
					online INTEGER NOT NULL DEFAULT 0,
					checked_at DATETIME NOT NULL,
					last_error TEXT NOT NULL DEFAULT ''
				);
				CREATE TABLE IF NOT EXISTS sync_results (
					account_id TEXT PRIMARY KEY,
					balance REAL NOT NULL DEFAULT 0,
					advance REAL NOT NULL DEFAULT 0,
					balance_source TEXT NOT NULL DEFAULT '',
					items_total INTEGER NOT NULL DEFAULT 0,
					items_active INTEGER NOT NULL DEFAULT 0,
					items_inactive INTEGER NOT NULL DEFAULT 0,
					views INTEGER NOT NULL DEFAULT 0,
					contacts INTEGER NOT NULL DEFAULT 0,
					favorites INTEGER NOT NULL DEFAULT 0,
					today_views INTEGER NOT NULL DEFAULT 0,
					today_contacts INTEGER NOT NULL DEFAULT 0,
					today_favorites INTEGER NOT NULL DEFAULT 0,
					failed_parts TEXT NOT NULL DEFAULT '',
					synced_at DATETIME NOT NULL
				);
			`,
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return &errors.ErrDatabaseQuery{Operation: "begin migration", Err: err}
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return &errors.ErrDatabaseQuery{Operation: "apply migration", Err: err}
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return &errors.ErrDatabaseQuery{Operation: "record migration", Err: err}
		}
		if err := tx.Commit(); err != nil {
			return &errors.ErrDatabaseQuery{Operation: "commit migration", Err: err}
		}
	}
	return nil
}

func (s *SQLiteStore) GetAccount(id string) (*models.Account, bool) {
	row := s.db.QueryRow(`
		SELECT id, name, enabled, keep_alive_enabled, keep_alive_interval_seconds, proxy_id, created_at, updated_at
		FROM accounts WHERE id = ?`, id)
	acc, err := scanAccount(row)
	if err != nil {
		return nil, false
	}
	return acc, true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var acc models.Account
	var enabled, kaEnabled int
	var kaSeconds int64
	if err := row.Scan(&acc.ID, &acc.Name, &enabled, &kaEnabled, &kaSeconds, &acc.ProxyID, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	acc.Enabled = enabled != 0
	acc.KeepAliveEnabled = kaEnabled != 0
	acc.KeepAliveInterval = time.Duration(kaSeconds) * time.Second
	return &acc, nil
}

func (s *SQLiteStore) SetAccount(acc *models.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	createdAt := acc.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.db.Exec(`
		INSERT INTO accounts (id, name, enabled, keep_alive_enabled, keep_alive_interval_seconds, proxy_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			enabled = excluded.enabled,
			keep_alive_enabled = excluded.keep_alive_enabled,
			keep_alive_interval_seconds = excluded.keep_alive_interval_seconds,
			proxy_id = excluded.proxy_id,
			updated_at = excluded.updated_at`,
		acc.ID, acc.Name, boolInt(acc.Enabled), boolInt(acc.KeepAliveEnabled),
		int64(acc.KeepAliveInterval/time.Second), acc.ProxyID, createdAt, now)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set account", Err: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteAccount(id string) bool {
	res, err := s.db.Exec("DELETE FROM accounts WHERE id = ?", id)
	if err != nil {
		s.logger.Error("delete account failed", "account_id", id, "error", err.Error())
		return false
	}
	// Statuses and sync results have no FK; clean them up alongside.
	_, _ = s.db.Exec("DELETE FROM account_statuses WHERE account_id = ?", id)
	_, _ = s.db.Exec("DELETE FROM sync_results WHERE account_id = ?", id)
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *SQLiteStore) ListAccounts() []*models.Account {
	return s.listAccounts("SELECT id, name, enabled, keep_alive_enabled, keep_alive_interval_seconds, proxy_id, created_at, updated_at FROM accounts ORDER BY id")
}

func (s *SQLiteStore) ListEnabledAccounts() []*models.Account {
	return s.listAccounts("SELECT id, name, enabled, keep_alive_enabled, keep_alive_interval_seconds, proxy_id, created_at, updated_at FROM accounts WHERE enabled = 1 ORDER BY id")
}

func (s *SQLiteStore) listAccounts(query string) []*models.Account {
	rows, err := s.db.Query(query)
	if err != nil {
		s.logger.Error("list accounts failed", "error", err.Error())
		return nil
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			s.logger.Error("scan account failed", "error", err.Error())
			continue
		}
		out = append(out, acc)
	}
	return out
}

func (s *SQLiteStore) GetCredentials(accountID string) (*models.AccountCredentials, bool) {
	var creds models.AccountCredentials
	err := s.db.QueryRow("SELECT account_id, client_id, client_secret FROM credentials WHERE account_id = ?", accountID).
		Scan(&creds.AccountID, &creds.ClientID, &creds.ClientSecret)
	if err != nil {
		return nil, false
	}
	return &creds, true
}

func (s *SQLiteStore) SetCredentials(accountID string, creds *models.AccountCredentials) error {
	if creds == nil {
		return &errors.ErrDatabaseQuery{Operation: "set credentials", Err: sql.ErrNoRows}
	}
	if err := creds.Validate(); err != nil {
		return err
	}
	_, err := s.db.Exec(`
		INSERT INTO credentials (account_id, client_id, client_secret) VALUES (?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			client_id = excluded.client_id,
			client_secret = excluded.client_secret`,
		accountID, creds.ClientID, creds.ClientSecret)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set credentials", Err: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteCredentials(accountID string) error {
	if _, err := s.db.Exec("DELETE FROM credentials WHERE account_id = ?", accountID); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete credentials", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetProxy(id string) (*models.ProxyConfig, bool) {
	var cfg models.ProxyConfig
	var username, password string
	err := s.db.QueryRow("SELECT id, host, port, protocol, username, password FROM proxies WHERE id = ?", id).
		Scan(&cfg.ID, &cfg.Host, &cfg.Port, &cfg.Protocol, &username, &password)
	if err != nil {
		return nil, false
	}
	if username != "" {
		cfg.Auth = &models.ProxyAuth{Username: username, Password: password}
	}
	return &cfg, true
}

func (s *SQLiteStore) SetProxy(cfg *models.ProxyConfig) error {
	if cfg == nil || cfg.ID == "" {
		return &errors.ErrDatabaseQuery{Operation: "set proxy", Err: sql.ErrNoRows}
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	var username, password string
	if cfg.Auth != nil {
		username = cfg.Auth.Username
		password = cfg.Auth.Password
	}
	_, err := s.db.Exec(`
		INSERT INTO proxies (id, host, port, protocol, username, password) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host = excluded.host,
			port = excluded.port,
			protocol = excluded.protocol,
			username = excluded.username,
			password = excluded.password`,
		cfg.ID, cfg.Host, cfg.Port, string(cfg.Protocol), username, password)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set proxy", Err: err}
	}
	return nil
}

func (s *SQLiteStore) DeleteProxy(id string) bool {
	res, err := s.db.Exec("DELETE FROM proxies WHERE id = ?", id)
	if err != nil {
		return false
	}
	n, _ := res.RowsAffected()
	return n > 0
}

func (s *SQLiteStore) ListProxies() []*models.ProxyConfig {
	rows, err := s.db.Query("SELECT id, host, port, protocol, username, password FROM proxies ORDER BY id")
	if err != nil {
		s.logger.Error("list proxies failed", "error", err.Error())
		return nil
	}
	defer rows.Close()

	var out []*models.ProxyConfig
	for rows.Next() {
		var cfg models.ProxyConfig
		var username, password string
		if err := rows.Scan(&cfg.ID, &cfg.Host, &cfg.Port, &cfg.Protocol, &username, &password); err != nil {
			continue
		}
		if username != "" {
			cfg.Auth = &models.ProxyAuth{Username: username, Password: password}
		}
		cp := cfg
		out = append(out, &cp)
	}
	return out
}

func (s *SQLiteStore) GetStatus(accountID string) (*models.AccountStatus, bool) {
	var status models.AccountStatus
	var online int
	err := s.db.QueryRow("SELECT account_id, online, checked_at, last_error FROM account_statuses WHERE account_id = ?", accountID).
		Scan(&status.AccountID, &online, &status.CheckedAt, &status.LastError)
	if err != nil {
		return nil, false
	}
	status.Online = online != 0
	return &status, true
}

func (s *SQLiteStore) SetStatus(status *models.AccountStatus) error {
	if status == nil || status.AccountID == "" {
		return &errors.ErrDatabaseQuery{Operation: "set status", Err: sql.ErrNoRows}
	}
	_, err := s.db.Exec(`
		INSERT INTO account_statuses (account_id, online, checked_at, last_error) VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			online = excluded.online,
			checked_at = excluded.checked_at,
			last_error = excluded.last_error`,
		status.AccountID, boolInt(status.Online), status.CheckedAt, status.LastError)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set status", Err: err}
	}
	return nil
}

func (s *SQLiteStore) ListStatuses() []*models.AccountStatus {
	rows, err := s.db.Query("SELECT account_id, online, checked_at, last_error FROM account_statuses ORDER BY account_id")
	if err != nil {
		s.logger.Error("list statuses failed", "error", err.Error())
		return nil
	}
	defer rows.Close()

	var out []*models.AccountStatus
	for rows.Next() {
		var status models.AccountStatus
		var online int
		if err := rows.Scan(&status.AccountID, &online, &status.CheckedAt, &status.LastError); err != nil {
			continue
		}
		status.Online = online != 0
		cp := status
		out = append(out, &cp)
	}
	return out
}

func (s *SQLiteStore) GetLastSync(accountID string) (*models.SyncResult, bool) {
	var result models.SyncResult
	var failedParts string
	err := s.db.QueryRow(`
		SELECT account_id, balance, advance, balance_source,
			items_total, items_active, items_inactive,
			views, contacts, favorites,
			today_views, today_contacts, today_favorites,
			failed_parts, synced_at
		FROM sync_results WHERE account_id = ?`, accountID).
		Scan(&result.AccountID, &result.Balance.Balance, &result.Balance.Advance, &result.Balance.Source,
			&result.Items.Total, &result.Items.Active, &result.Items.Inactive,
			&result.Totals.Views, &result.Totals.Contacts, &result.Totals.Favorites,
			&result.TodayTotals.Views, &result.TodayTotals.Contacts, &result.TodayTotals.Favorites,
			&failedParts, &result.SyncedAt)
	if err != nil {
		return nil, false
	}
	result.FailedParts = splitParts(failedParts)
	return &result, true
}

func (s *SQLiteStore) SetLastSync(result *models.SyncResult) error {
	if result == nil || result.AccountID == "" {
		return &errors.ErrDatabaseQuery{Operation: "set sync result", Err: sql.ErrNoRows}
	}
	_, err := s.db.Exec(`
		INSERT INTO sync_results (account_id, balance, advance, balance_source,
			items_total, items_active, items_inactive,
			views, contacts, favorites,
			today_views, today_contacts, today_favorites,
			failed_parts, synced_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id) DO UPDATE SET
			balance = excluded.balance,
			advance = excluded.advance,
			balance_source = excluded.balance_source,
			items_total = excluded.items_total,
			items_active = excluded.items_active,
			items_inactive = excluded.items_inactive,
			views = excluded.views,
			contacts = excluded.contacts,
			favorites = excluded.favorites,
			today_views = excluded.today_views,
			today_contacts = excluded.today_contacts,
			today_favorites = excluded.today_favorites,
			failed_parts = excluded.failed_parts,
			synced_at = excluded.synced_at`,
		result.AccountID, result.Balance.Balance, result.Balance.Advance, result.Balance.Source,
		result.Items.Total, result.Items.Active, result.Items.Inactive,
		result.Totals.Views, result.Totals.Contacts, result.Totals.Favorites,
		result.TodayTotals.Views, result.TodayTotals.Contacts, result.TodayTotals.Favorites,
		joinParts(result.FailedParts), result.SyncedAt)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set sync result", Err: err}
	}
	return nil
}

// Stats reports current entity counts.
func (s *SQLiteStore) Stats() Stats {
	var stats Stats
	_ = s.db.QueryRow("SELECT COUNT(*) FROM accounts").Scan(&stats.Accounts)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM proxies").Scan(&stats.Proxies)
	_ = s.db.QueryRow("SELECT COUNT(*) FROM account_statuses").Scan(&stats.Statuses)
	return stats
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func joinParts(parts []string) string {
	return strings.Join(parts, ",")
}

func splitParts(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
