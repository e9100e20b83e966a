package backend

import (
	"sync"
	"time"
)

// Table is a mapping from client identity to a live (or idle) backend
// client, supporting
// mark-unused / sweep semantics so a config reload can reuse
// connections whose identity hasn't changed instead of tearing every
// connection down on every reload.
type Table struct {
	mu      sync.Mutex
	clients map[string]*Client
}

// NewTable creates an empty BackendClientTable.
func NewTable() *Table {
	return &Table{clients: make(map[string]*Client)}
}

// LookupOrInsert returns the existing client for id, or creates and
// registers a new one. Either way the returned client's "unused" mark
// is cleared, matching how the config builder calls this for every
// client a new config references.
func (t *Table) LookupOrInsert(id Identity) *Client {
	key := id.Key()

	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[key]; ok {
		c.unused.Store(false)
		c.touch()
		return c
	}

	c := newClient(id)
	t.clients[key] = c
	return c
}

// MarkAllUnused marks every currently registered client unused. The
// config builder calls this before rebuilding pools from a new config
// blob so that SweepUnused can later remove whatever didn't get
// reclaimed via LookupOrInsert.
func (t *Table) MarkAllUnused() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.clients {
		c.unused.Store(true)
	}
}

// SweepUnused removes every client still marked unused, returning how
// many were removed. It should be called after a reload has finished
// rebuilding pools (or periodically by a standalone timer), never
// concurrently with an in-flight reload on the same table.
func (t *Table) SweepUnused() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, c := range t.clients {
		if c.unused.Load() {
			delete(t.clients, key)
			removed++
		}
	}
	return removed
}

// ResetInactive removes clients that have not been touched (looked up
// or had an RTT sample recorded) for longer than interval. interval <=
// 0 disables the check.
func (t *Table) ResetInactive(interval time.Duration) int {
	if interval <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-interval).UnixNano()

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, c := range t.clients {
		if c.lastUsed.Load() < cutoff {
			delete(t.clients, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of clients currently registered.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// All returns a snapshot slice of every registered client, for
// introspection (ServiceInfo) use.
func (t *Table) All() []*Client {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Client, 0, len(t.clients))
	for _, c := range t.clients {
		out = append(out, c)
	}
	return out
}
