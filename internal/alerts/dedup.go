package alerts

import (
	"sync"
	"time"
)

// DedupStore suppresses repeats of the same alert key within a window.
type DedupStore struct {
	records map[string]*sentRecord
	window  time.Duration
	mu      sync.RWMutex
}

// NewDedupStore creates a deduplication store. A non-positive window falls
// back to 30 minutes.
func NewDedupStore(window time.Duration) *DedupStore {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &DedupStore{
		records: make(map[string]*sentRecord),
		window:  window,
	}
}

// IsDuplicate reports whether the key was sent within the window.
func (d *DedupStore) IsDuplicate(key string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	record, exists := d.records[key]
	return exists && time.Since(record.sentAt) < d.window
}

// Record marks the key as sent now.
func (d *DedupStore) Record(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if record, exists := d.records[key]; exists {
		record.sentAt = time.Now()
		record.count++
		return
	}
	d.records[key] = &sentRecord{key: key, sentAt: time.Now(), count: 1}
}

// Forget drops the key so the next occurrence alerts again. Used when a
// condition clears, e.g. an account comes back online.
func (d *DedupStore) Forget(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.records, key)
}

// Cleanup removes records older than the window.
func (d *DedupStore) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for key, record := range d.records {
		if now.Sub(record.sentAt) > d.window {
			delete(d.records, key)
		}
	}
}

// Size returns the number of tracked keys.
func (d *DedupStore) Size() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}
