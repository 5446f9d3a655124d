// Package alerts turns account status transitions into operator
// notifications, deduplicated and rate limited so a flapping account cannot
// flood the channel.
package alerts

import (
	"fmt"
	"time"
)

// Severity represents alert severity level
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	// AlertTypeOffline fires when a keep-alive call starts failing.
	AlertTypeOffline AlertType = "offline"
	// AlertTypeRecovered fires when a previously offline account answers again.
	AlertTypeRecovered AlertType = "recovered"
	// AlertTypeSyncFailed fires when every part of an account sync failed.
	AlertTypeSyncFailed AlertType = "sync_failed"
	// AlertTypeProxyBlocking fires when diagnostics identify proxy interference.
	AlertTypeProxyBlocking AlertType = "proxy_blocking"
)

// Alert is one notification candidate.
type Alert struct {
	AccountID string
	Type      AlertType
	Severity  Severity
	Message   string
	Timestamp time.Time
}

// Key identifies the alert for deduplication: repeats of the same condition
// on the same account collapse within the dedup window.
func (a *Alert) Key() string {
	return a.AccountID + ":" + string(a.Type)
}

// Render formats the alert for the notification channel.
func (a *Alert) Render() string {
	icon := "ℹ️"
	switch a.Severity {
	case SeverityWarning:
		icon = "⚠️"
	case SeverityCritical:
		icon = "🚨"
	}
	return fmt.Sprintf("%s [%s] account %s: %s", icon, a.Type, a.AccountID, a.Message)
}

// sentRecord tracks when an alert key last went out.
type sentRecord struct {
	key    string
	sentAt time.Time
	count  int
}
