package hub

import "sync"

// Registry is the in-memory account → connections map. All operations are
// safe for concurrent use; cross-account operations never share a critical
// section beyond the map lock itself.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[*Connection]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]map[*Connection]struct{})}
}

// Add registers c under its account.
func (r *Registry) Add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.AccountID]
	if !ok {
		set = make(map[*Connection]struct{})
		r.conns[c.AccountID] = set
	}
	set[c] = struct{}{}
}

// Remove deregisters c. Removing an unknown connection is a no-op.
func (r *Registry) Remove(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.conns[c.AccountID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.conns, c.AccountID)
	}
}

// ConnectionsOf returns a snapshot of the account's live connections.
func (r *Registry) ConnectionsOf(accountID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.conns[accountID]
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections for the account.
func (r *Registry) Count(accountID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[accountID])
}
