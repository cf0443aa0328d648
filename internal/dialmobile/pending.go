package dialmobile

import (
	"sort"
	"sync"
	"time"

	"github.com/flowpbx/dialmobile/internal/push"
)

// PendingPush is a push notification that was dispatched for a call and has
// not been resolved yet.
type PendingPush struct {
	Notification push.Notification
	PushedAt     time.Time
}

// PendingTable holds at most one PendingPush per linkedid. Every operation is
// atomic, so of two concurrent resolutions for the same call exactly one
// observes the entry.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]PendingPush
}

// NewPendingTable creates an empty PendingTable.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]PendingPush)}
}

// Add stores p unless an entry already exists for its linkedid. It reports
// whether p was stored.
func (t *PendingTable) Add(p PendingPush) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := p.Notification.LinkedID
	if _, exists := t.entries[id]; exists {
		return false
	}
	t.entries[id] = p
	return true
}

// Take removes and returns the entry for linkedID.
func (t *PendingTable) Take(linkedID string) (PendingPush, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[linkedID]
	if ok {
		delete(t.entries, linkedID)
	}
	return p, ok
}

// Has reports whether a push is pending for linkedID.
func (t *PendingTable) Has(linkedID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[linkedID]
	return ok
}

// Len returns the number of pending pushes.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// List returns a snapshot of the pending pushes, oldest first.
func (t *PendingTable) List() []PendingPush {
	t.mu.Lock()
	out := make([]PendingPush, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].PushedAt.Before(out[j].PushedAt)
	})
	return out
}

// TakeExpired removes and returns every entry pushed before cutoff.
func (t *PendingTable) TakeExpired(cutoff time.Time) []PendingPush {
	t.mu.Lock()
	defer t.mu.Unlock()
	var expired []PendingPush
	for id, p := range t.entries {
		if p.PushedAt.Before(cutoff) {
			expired = append(expired, p)
			delete(t.entries, id)
		}
	}
	return expired
}
