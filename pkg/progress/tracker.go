// Package progress implements the in-memory, concurrent map from job id to
// the latest JobStatus (spec §4.4). It is never persisted.
package progress

import (
	"sync"

	"github.com/bksd/bksd/pkg/domain"
)

// Tracker is a fine-grained concurrent map: writes are last-writer-wins per
// key, reads are snapshot-consistent per key but not across keys.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]domain.JobStatus
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{entries: make(map[string]domain.JobStatus)}
}

// Set records the latest status for jobID.
func (t *Tracker) Set(jobID string, status domain.JobStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[jobID] = status
}

// Get returns the latest status for jobID, if tracked.
func (t *Tracker) Get(jobID string) (domain.JobStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.entries[jobID]
	return s, ok
}

// Active returns a snapshot of every tracked job.
func (t *Tracker) Active() map[string]domain.JobStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot := make(map[string]domain.JobStatus, len(t.entries))
	for k, v := range t.entries {
		snapshot[k] = v
	}
	return snapshot
}

// Remove drops jobID from the tracker; called on terminal transitions.
func (t *Tracker) Remove(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, jobID)
}

var _ domain.ProgressTracker = (*Tracker)(nil)
