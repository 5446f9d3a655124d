package models

import (
	"fmt"
	"time"
)

// Account represents one Avito seller account managed by the bridge.
type Account struct {
	ID                string        `json:"id"`
	Name              string        `json:"name"`
	Enabled           bool          `json:"enabled"`
	KeepAliveEnabled  bool          `json:"keep_alive_enabled"`
	KeepAliveInterval time.Duration `json:"keep_alive_interval"`
	ProxyID           string        `json:"proxy_id,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Validate checks if the account is valid.
func (a *Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account ID is required")
	}
	if a.KeepAliveInterval < 0 {
		return fmt.Errorf("keep-alive interval cannot be negative")
	}
	return nil
}

// AccountStatus is the last observed online state of an account, written only
// by the keep-alive scheduler through its event sink.
type AccountStatus struct {
	AccountID string    `json:"account_id"`
	Online    bool      `json:"online"`
	CheckedAt time.Time `json:"checked_at"`
	LastError string    `json:"last_error,omitempty"`
}
