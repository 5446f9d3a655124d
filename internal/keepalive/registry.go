// Package keepalive keeps enabled accounts marked online by issuing a
// lightweight authenticated call on a per-account timer.
package keepalive

import (
	"context"
	"sync"
	"time"
)

// job is one account's keep-alive loop. The loop goroutine owns lastSuccess;
// cancel stops it and done closes when it has fully exited.
type job struct {
	accountID string
	interval  time.Duration
	cancel    context.CancelFunc
	done      chan struct{}

	mu          sync.Mutex
	lastSuccess time.Time
}

func (j *job) markSuccess(at time.Time) {
	j.mu.Lock()
	j.lastSuccess = at
	j.mu.Unlock()
}

func (j *job) sinceSuccess(now time.Time) (time.Duration, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastSuccess.IsZero() {
		return 0, false
	}
	return now.Sub(j.lastSuccess), true
}

// Registry maps account IDs to their running jobs. The scheduler is its only
// writer; it exists as a separate type so tests and the management API can
// observe which jobs are live.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*job
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*job)}
}

// replace stores a job for the account and returns the previous one, if any.
func (r *Registry) replace(j *job) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.jobs[j.accountID]
	r.jobs[j.accountID] = j
	return old
}

// remove deletes and returns the account's job, if any.
func (r *Registry) remove(accountID string) *job {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.jobs[accountID]
	delete(r.jobs, accountID)
	return old
}

// drain empties the registry and returns every job that was registered.
func (r *Registry) drain() []*job {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.jobs = make(map[string]*job)
	return out
}

// Len reports the number of registered jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Active reports whether the account currently has a job.
func (r *Registry) Active(accountID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[accountID]
	return ok
}

// AccountIDs lists the accounts with running jobs.
func (r *Registry) AccountIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for id := range r.jobs {
		out = append(out, id)
	}
	return out
}
