package models

import "time"

// AccountInfo is the Avito account profile returned by /core/v1/accounts/self.
type AccountInfo struct {
	UserID int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Phone  string `json:"phone,omitempty"`
}

// BalanceInfo holds the CPA balance in major units (Avito reports kopecks;
// the client divides by 100 before constructing this value).
type BalanceInfo struct {
	Balance float64 `json:"balance"`
	Advance float64 `json:"advance,omitempty"`
	// Source records which balanceInfo endpoint actually answered (v2 or v3).
	Source string `json:"source,omitempty"`
}

// ItemsStats aggregates listing counts from /core/v1/items.
type ItemsStats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
}

// ItemStatsDetailed is a per-item statistics row over a date range.
type ItemStatsDetailed struct {
	ItemID    int64 `json:"item_id"`
	Views     int   `json:"views"`
	Contacts  int   `json:"contacts"`
	Favorites int   `json:"favorites"`
}

// StatsTotals sums detailed rows.
type StatsTotals struct {
	Views     int `json:"views"`
	Contacts  int `json:"contacts"`
	Favorites int `json:"favorites"`
}

// SyncResult is the aggregate of one account sync. Fields for failed
// sub-fetches hold zero values; FailedParts names which ones failed.
type SyncResult struct {
	AccountID   string      `json:"account_id"`
	Balance     BalanceInfo `json:"balance"`
	Items       ItemsStats  `json:"items"`
	Totals      StatsTotals `json:"totals"`
	TodayTotals StatsTotals `json:"today_totals"`
	FailedParts []string    `json:"failed_parts,omitempty"`
	SyncedAt    time.Time   `json:"synced_at"`
}

// Partial reports whether some sub-fetches failed.
func (r *SyncResult) Partial() bool {
	return len(r.FailedParts) > 0
}

// ConnectionResult is the outcome of a connection test.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DiagnosticReport is the outcome of the 3-stage probe. Created fresh per
// run, never persisted.
type DiagnosticReport struct {
	ProxyReachable      bool     `json:"proxy_reachable"`
	APIReachableDirect  bool     `json:"api_reachable_direct"`
	APIReachableProxied bool     `json:"api_reachable_via_proxy"`
	Recommendations     []string `json:"recommendations"`
}
