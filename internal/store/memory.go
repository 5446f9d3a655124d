package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/avitobridge/avitobridge/internal/models"
)

// MemoryStore keeps everything in maps. Used by tests and by deployments
// that configure accounts purely from the YAML file.
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[string]*models.Account
	credentials map[string]*models.AccountCredentials
	proxies     map[string]*models.ProxyConfig
	statuses    map[string]*models.AccountStatus
	syncs       map[string]*models.SyncResult
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[string]*models.Account),
		credentials: make(map[string]*models.AccountCredentials),
		proxies:     make(map[string]*models.ProxyConfig),
		statuses:    make(map[string]*models.AccountStatus),
		syncs:       make(map[string]*models.SyncResult),
	}
}

func (s *MemoryStore) GetAccount(id string) (*models.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, false
	}
	cp := *acc
	return &cp, true
}

func (s *MemoryStore) SetAccount(acc *models.Account) error {
	if err := acc.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acc
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.UpdatedAt = time.Now().UTC()
	s.accounts[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteAccount(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return false
	}
	delete(s.accounts, id)
	delete(s.credentials, id)
	delete(s.statuses, id)
	delete(s.syncs, id)
	return true
}

func (s *MemoryStore) ListAccounts() []*models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		cp := *acc
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) ListEnabledAccounts() []*models.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		if !acc.Enabled {
			continue
		}
		cp := *acc
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) GetCredentials(accountID string) (*models.AccountCredentials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	creds, ok := s.credentials[accountID]
	if !ok {
		return nil, false
	}
	cp := *creds
	return &cp, true
}

func (s *MemoryStore) SetCredentials(accountID string, creds *models.AccountCredentials) error {
	if creds == nil {
		return fmt.Errorf("credentials are required")
	}
	if err := creds.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *creds
	cp.AccountID = accountID
	s.credentials[accountID] = &cp
	return nil
}

func (s *MemoryStore) DeleteCredentials(accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.credentials, accountID)
	return nil
}

func (s *MemoryStore) GetProxy(id string) (*models.ProxyConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.proxies[id]
	if !ok {
		return nil, false
	}
	cp := *cfg
	if cfg.Auth != nil {
		auth := *cfg.Auth
		cp.Auth = &auth
	}
	return &cp, true
}

func (s *MemoryStore) SetProxy(cfg *models.ProxyConfig) error {
	if cfg == nil {
		return fmt.Errorf("proxy config is required")
	}
	if cfg.ID == "" {
		return fmt.Errorf("proxy ID is required")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	if cfg.Auth != nil {
		auth := *cfg.Auth
		cp.Auth = &auth
	}
	s.proxies[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteProxy(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proxies[id]; !ok {
		return false
	}
	delete(s.proxies, id)
	return true
}

func (s *MemoryStore) ListProxies() []*models.ProxyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.ProxyConfig, 0, len(s.proxies))
	for _, cfg := range s.proxies {
		cp := *cfg
		if cfg.Auth != nil {
			auth := *cfg.Auth
			cp.Auth = &auth
		}
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) GetStatus(accountID string) (*models.AccountStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status, ok := s.statuses[accountID]
	if !ok {
		return nil, false
	}
	cp := *status
	return &cp, true
}

func (s *MemoryStore) SetStatus(status *models.AccountStatus) error {
	if status == nil || status.AccountID == "" {
		return fmt.Errorf("status with account ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *status
	s.statuses[cp.AccountID] = &cp
	return nil
}

func (s *MemoryStore) ListStatuses() []*models.AccountStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.AccountStatus, 0, len(s.statuses))
	for _, status := range s.statuses {
		cp := *status
		out = append(out, &cp)
	}
	return out
}

func (s *MemoryStore) GetLastSync(accountID string) (*models.SyncResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.syncs[accountID]
	if !ok {
		return nil, false
	}
	cp := *result
	cp.FailedParts = append([]string(nil), result.FailedParts...)
	return &cp, true
}

func (s *MemoryStore) SetLastSync(result *models.SyncResult) error {
	if result == nil || result.AccountID == "" {
		return fmt.Errorf("sync result with account ID is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	cp.FailedParts = append([]string(nil), result.FailedParts...)
	s.syncs[cp.AccountID] = &cp
	return nil
}

// Stats reports current entity counts.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Accounts: len(s.accounts),
		Proxies:  len(s.proxies),
		Statuses: len(s.statuses),
	}
}

func (s *MemoryStore) Close() error { return nil }
