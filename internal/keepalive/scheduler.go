package keepalive

import (
	"context"
	"fmt"
	"time"

	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/metrics"
	"github.com/avitobridge/avitobridge/internal/models"
)

const (
	// DefaultInterval is the tick period when an account does not set one.
	DefaultInterval = 300 * time.Second
	// DefaultMinUpdateFloor is the minimum gap between successful updates,
	// enforced regardless of the configured interval.
	DefaultMinUpdateFloor = 300 * time.Second
	// drainTimeout bounds StopAll; no job may outlive process teardown.
	drainTimeout = 10 * time.Second
)

// Pinger issues the lightweight authenticated call that keeps an account's
// session marked online upstream.
type Pinger interface {
	Ping(ctx context.Context, accountID string) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context, accountID string) error

func (f PingerFunc) Ping(ctx context.Context, accountID string) error { return f(ctx, accountID) }

// EventSink receives the online/offline outcome of every completed tick.
type EventSink interface {
	OnStatusChange(accountID string, online bool, at time.Time)
}

// NopSink discards status events.
type NopSink struct{}

func (NopSink) OnStatusChange(string, bool, time.Time) {}

// Scheduler runs one keep-alive job per account. Start replaces any existing
// job for the account, Stop is idempotent, and a failed tick never stops the
// timer.
type Scheduler struct {
	registry *Registry
	pinger   Pinger
	sink     EventSink
	logger   *logging.Logger
	metrics  *metrics.Metrics

	interval    time.Duration
	floor       time.Duration
	pingTimeout time.Duration
	drain       time.Duration
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithDefaultInterval sets the interval used when Start receives zero.
func WithDefaultInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMinUpdateFloor sets the minimum gap between successful updates.
func WithMinUpdateFloor(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.floor = d
		}
	}
}

// WithPingTimeout bounds each keep-alive call.
func WithPingTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.pingTimeout = d
		}
	}
}

// WithDrainTimeout bounds how long StopAll waits for jobs to exit.
func WithDrainTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.drain = d
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler builds a scheduler over the given registry and pinger.
func NewScheduler(registry *Registry, pinger Pinger, sink EventSink, logger *logging.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		registry:    registry,
		pinger:      pinger,
		sink:        sink,
		logger:      logger,
		interval:    DefaultInterval,
		floor:       DefaultMinUpdateFloor,
		pingTimeout: 30 * time.Second,
		drain:       drainTimeout,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.sink == nil {
		s.sink = NopSink{}
	}
	if s.logger == nil {
		s.logger = logging.NewLogger()
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the job registry for observation.
func (s *Scheduler) Registry() *Registry { return s.registry }

// Start launches a keep-alive job for the account, replacing any existing
// one. The first call fires immediately; after that the timer period applies.
func (s *Scheduler) Start(accountID string, interval time.Duration) error {
	if accountID == "" {
		return fmt.Errorf("keepalive: account id is required")
	}
	if interval <= 0 {
		interval = s.interval
	}
	if interval < s.floor {
		s.logger.Warn("keep-alive interval below the minimum update floor; extra ticks will be skipped",
			"account_id", accountID,
			"interval", interval.String(),
			"floor", s.floor.String(),
		)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		accountID: accountID,
		interval:  interval,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	old := s.registry.replace(j)
	if old != nil {
		old.cancel()
		<-old.done
	}
	s.recordJobs()

	go s.run(ctx, j)
	return nil
}

// Stop cancels the account's job and waits for it to exit. Stopping an
// account without a job is a no-op.
func (s *Scheduler) Stop(accountID string) {
	j := s.registry.remove(accountID)
	if j == nil {
		return
	}
	j.cancel()
	<-j.done
	s.recordJobs()
	s.logger.Info("keep-alive job stopped", "account_id", accountID)
}

// StopAll cancels every job and waits, bounded, for all of them to exit.
func (s *Scheduler) StopAll() {
	jobs := s.registry.drain()
	for _, j := range jobs {
		j.cancel()
	}

	// One absolute deadline shared by every job. A per-job timer is armed
	// against the remaining budget so a single stuck job cannot exhaust the
	// wait that later jobs would otherwise get.
	deadline := time.Now().Add(s.drain)
	for _, j := range jobs {
		select {
		case <-j.done:
			continue
		default:
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			s.logger.Error("keep-alive job did not stop before the drain deadline",
				"account_id", j.accountID)
			continue
		}
		timer := time.NewTimer(remaining)
		select {
		case <-j.done:
			timer.Stop()
		case <-timer.C:
			s.logger.Error("keep-alive job did not stop before the drain deadline",
				"account_id", j.accountID)
		}
	}
	s.recordJobs()
}

// InitializeFromPersistedState starts a job per enabled account. One
// account's failure to start never blocks the rest.
func (s *Scheduler) InitializeFromPersistedState(accounts []models.Account) {
	started := 0
	for _, acc := range accounts {
		if !acc.Enabled || !acc.KeepAliveEnabled {
			continue
		}
		if err := s.Start(acc.ID, acc.KeepAliveInterval); err != nil {
			s.logger.Error("failed to start keep-alive job",
				"account_id", acc.ID,
				"error", err.Error(),
			)
			continue
		}
		started++
	}
	s.logger.Info("keep-alive jobs initialized", "count", started)
}

func (s *Scheduler) run(ctx context.Context, j *job) {
	defer close(j.done)

	s.tick(ctx, j)
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, j)
		}
	}
}

// tick performs one keep-alive call unless the floor suppresses it. Failures
// mark the account offline but never stop the loop.
func (s *Scheduler) tick(ctx context.Context, j *job) {
	now := time.Now()
	if since, ok := j.sinceSuccess(now); ok && since < s.floor {
		s.recordTick(j.accountID, "skipped")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	err := s.pinger.Ping(callCtx, j.accountID)
	cancel()

	at := time.Now()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.recordTick(j.accountID, "failure")
		s.setOnline(j.accountID, false)
		s.logger.Warn("keep-alive call failed",
			"account_id", j.accountID,
			"error", err.Error(),
		)
		s.sink.OnStatusChange(j.accountID, false, at)
		return
	}

	j.markSuccess(at)
	s.recordTick(j.accountID, "success")
	s.setOnline(j.accountID, true)
	s.logger.Debug("keep-alive call succeeded", "account_id", j.accountID)
	s.sink.OnStatusChange(j.accountID, true, at)
}

func (s *Scheduler) recordTick(accountID, result string) {
	if s.metrics != nil {
		s.metrics.RecordKeepAliveTick(accountID, result)
	}
}

func (s *Scheduler) setOnline(accountID string, online bool) {
	if s.metrics != nil {
		s.metrics.SetAccountOnline(accountID, online)
	}
}

func (s *Scheduler) recordJobs() {
	if s.metrics != nil {
		s.metrics.SetKeepAliveJobs(s.registry.Len())
	}
}
