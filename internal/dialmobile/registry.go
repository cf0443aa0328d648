package dialmobile

import "sync"

// Registry counts, per user, the mobile sessions currently open. It is an
// eventually-consistent view fed by session events, not an authority.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]int)}
}

// SessionCreated records a new mobile session for user and returns the
// user's session count.
func (r *Registry) SessionCreated(user string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[user]++
	return r.sessions[user]
}

// SessionDeleted records the end of one of user's mobile sessions and returns
// the remaining count. Deleting for a user without sessions is a no-op.
func (r *Registry) SessionDeleted(user string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := r.sessions[user]
	if n <= 1 {
		delete(r.sessions, user)
		return 0
	}
	r.sessions[user] = n - 1
	return n - 1
}

// IsRegistered reports whether user has at least one mobile session.
func (r *Registry) IsRegistered(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[user] > 0
}

// Users returns the number of users with at least one mobile session.
func (r *Registry) Users() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
