// Package store persists the bridge's account registry: accounts, their
// OAuth credentials, proxy definitions, observed online statuses and the
// last sync snapshot per account.
package store

import "github.com/avitobridge/avitobridge/internal/models"

// Store is the persistence boundary. Both implementations are safe for
// concurrent use.
type Store interface {
	// Accounts
	GetAccount(id string) (*models.Account, bool)
	SetAccount(acc *models.Account) error
	DeleteAccount(id string) bool
	ListAccounts() []*models.Account
	ListEnabledAccounts() []*models.Account

	// Credentials are stored separately from accounts so listings never
	// carry secrets.
	GetCredentials(accountID string) (*models.AccountCredentials, bool)
	SetCredentials(accountID string, creds *models.AccountCredentials) error
	DeleteCredentials(accountID string) error

	// Proxies
	GetProxy(id string) (*models.ProxyConfig, bool)
	SetProxy(cfg *models.ProxyConfig) error
	DeleteProxy(id string) bool
	ListProxies() []*models.ProxyConfig

	// Statuses, written by the keep-alive event sink.
	GetStatus(accountID string) (*models.AccountStatus, bool)
	SetStatus(status *models.AccountStatus) error
	ListStatuses() []*models.AccountStatus

	// Sync snapshots
	GetLastSync(accountID string) (*models.SyncResult, bool)
	SetLastSync(result *models.SyncResult) error

	Stats() Stats
	Close() error
}

// Stats summarizes store contents, for the health endpoint.
type Stats struct {
	Accounts int `json:"accounts"`
	Proxies  int `json:"proxies"`
	Statuses int `json:"statuses"`
}
