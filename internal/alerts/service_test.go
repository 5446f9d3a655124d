package alerts

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avitobridge/avitobridge/internal/logging"
	"github.com/avitobridge/avitobridge/internal/store"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (r *recordingNotifier) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, text)
	return nil
}

func (r *recordingNotifier) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func newTestService(n Notifier, opts ...ServiceOption) (*Service, *store.MemoryStore) {
	st := store.NewMemoryStore()
	return NewService(st, n, logging.NewLogger(), opts...), st
}

func TestOnStatusChange_AlertsOnGoingOffline(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, st := newTestService(notifier)

	svc.OnStatusChange("acc-1", false, time.Now())

	messages := notifier.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "offline")
	assert.Contains(t, messages[0], "acc-1")

	status, ok := st.GetStatus("acc-1")
	require.True(t, ok)
	assert.False(t, status.Online)
}

func TestOnStatusChange_QuietWhileSteady(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(notifier)

	svc.OnStatusChange("acc-1", true, time.Now())
	svc.OnStatusChange("acc-1", true, time.Now())
	svc.OnStatusChange("acc-1", true, time.Now())

	assert.Empty(t, notifier.sent())
}

func TestOnStatusChange_RecoveryAlertsAndRearmsOffline(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(notifier)

	svc.OnStatusChange("acc-1", false, time.Now()) // offline alert
	svc.OnStatusChange("acc-1", false, time.Now()) // still offline, suppressed
	svc.OnStatusChange("acc-1", true, time.Now())  // recovery alert
	svc.OnStatusChange("acc-1", false, time.Now()) // offline again, re-armed

	messages := notifier.sent()
	require.Len(t, messages, 3)
	assert.Contains(t, messages[0], "offline")
	assert.Contains(t, messages[1], "back online")
	assert.Contains(t, messages[2], "offline")
}

func TestOnStatusChange_DedupSuppressesRepeats(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(notifier)

	for i := 0; i < 5; i++ {
		svc.OnStatusChange("acc-1", false, time.Now())
	}
	assert.Len(t, notifier.sent(), 1)
}

func TestRaise_ThrottleDropsExcess(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(notifier, WithThrottle(1, 2), WithDedupWindow(time.Nanosecond))

	// Distinct accounts bypass dedup; the 2-token bucket caps delivery.
	for i := 0; i < 10; i++ {
		svc.OnStatusChange(fmt.Sprintf("acc-%d", i), false, time.Now())
	}
	assert.LessOrEqual(t, len(notifier.sent()), 2)
}

func TestRaise_DeliveryFailureDoesNotRecordDedup(t *testing.T) {
	notifier := &recordingNotifier{err: fmt.Errorf("telegram down")}
	svc, _ := newTestService(notifier)

	svc.OnStatusChange("acc-1", false, time.Now())
	assert.Equal(t, 0, svc.dedup.Size())
}

func TestSyncFailed_SendsWarning(t *testing.T) {
	notifier := &recordingNotifier{}
	svc, _ := newTestService(notifier)

	svc.SyncFailed("acc-1", fmt.Errorf("all parts failed"))

	messages := notifier.sent()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "sync_failed")
	assert.Contains(t, messages[0], "all parts failed")
}

func TestNilNotifier_StillPersistsStatus(t *testing.T) {
	svc, st := newTestService(nil)

	svc.OnStatusChange("acc-1", false, time.Now())

	status, ok := st.GetStatus("acc-1")
	require.True(t, ok)
	assert.False(t, status.Online)
}
