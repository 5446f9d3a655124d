package alerts

import (
	"context"
	"time"

	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/models"
	"github.com/avitobridge/avitobridge/internal/store"
)

// Notifier delivers a rendered alert to the operator channel.
type Notifier interface {
	Send(ctx context.Context, text string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, text string) error

func (f NotifierFunc) Send(ctx context.Context, text string) error { return f(ctx, text) }

// Service persists account statuses and raises alerts on transitions. It
// satisfies the keep-alive scheduler's event sink, so every completed tick
// flows through here.
type Service struct {
	store    store.Store
	notifier Notifier
	logger   *logging.Logger
	dedup    *DedupStore
	throttle *Throttler

	sendTimeout time.Duration
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDedupWindow sets the duplicate-suppression window.
func WithDedupWindow(window time.Duration) ServiceOption {
	return func(s *Service) { s.dedup = NewDedupStore(window) }
}

// WithThrottle sets the overall send rate.
func WithThrottle(ratePerMinute, burst int) ServiceOption {
	return func(s *Service) { s.throttle = NewThrottler(ratePerMinute, burst) }
}

// WithSendTimeout bounds each notifier call.
func WithSendTimeout(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// NewService builds the alert service. A nil notifier disables delivery but
// status persistence still happens.
func NewService(st store.Store, notifier Notifier, logger *logging.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:       st,
		notifier:    notifier,
		logger:      logger,
		dedup:       NewDedupStore(30 * time.Minute),
		throttle:    NewThrottler(30, 10),
		sendTimeout: 10 * time.Second,
	}
	if s.logger == nil {
		s.logger = logging.NewLogger()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnStatusChange records the tick outcome and alerts on transitions: an
// account going offline raises a critical alert, coming back raises an
// informational one. Steady states stay quiet.
func (s *Service) OnStatusChange(accountID string, online bool, at time.Time) {
	prev, existed := s.store.GetStatus(accountID)

	status := &models.AccountStatus{AccountID: accountID, Online: online, CheckedAt: at}
	if err := s.store.SetStatus(status); err != nil {
		s.logger.Error("failed to persist account status",
			"account_id", accountID,
			"error", err.Error(),
		)
	}

	wasOnline := existed && prev.Online
	switch {
	case !online && (!existed || wasOnline):
		s.raise(&Alert{
			AccountID: accountID,
			Type:      AlertTypeOffline,
			Severity:  SeverityCritical,
			Message:   "keep-alive call failed, account looks offline",
			Timestamp: at,
		})
	case online && existed && !wasOnline:
		// Clear the offline suppression so the next outage alerts promptly.
		s.dedup.Forget(accountID + ":" + string(AlertTypeOffline))
		s.raise(&Alert{
			AccountID: accountID,
			Type:      AlertTypeRecovered,
			Severity:  SeverityInfo,
			Message:   "account is back online",
			Timestamp: at,
		})
	}
}

// SyncFailed alerts that every part of an account sync failed.
func (s *Service) SyncFailed(accountID string, cause error) {
	s.raise(&Alert{
		AccountID: accountID,
		Type:      AlertTypeSyncFailed,
		Severity:  SeverityWarning,
		Message:   cause.Error(),
		Timestamp: time.Now(),
	})
}

// ProxyBlocking alerts that diagnostics identified proxy interference.
func (s *Service) ProxyBlocking(accountID string, detail string) {
	s.raise(&Alert{
		AccountID: accountID,
		Type:      AlertTypeProxyBlocking,
		Severity:  SeverityWarning,
		Message:   detail,
		Timestamp: time.Now(),
	})
}

func (s *Service) raise(alert *Alert) {
	if s.notifier == nil {
		return
	}
	key := alert.Key()
	if s.dedup.IsDuplicate(key) {
		s.logger.Debug("alert suppressed as duplicate", "key", key)
		return
	}
	if !s.throttle.Allow() {
		s.logger.Warn("alert dropped by throttle", "key", key)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	defer cancel()
	if err := s.notifier.Send(ctx, alert.Render()); err != nil {
		s.logger.Error("failed to deliver alert",
			"key", key,
			"error", err.Error(),
		)
		return
	}
	s.dedup.Record(key)
}
