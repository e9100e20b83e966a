package configsnapshot

import (
	"sync/atomic"
	"time"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/routehandle"
	"github.com/kiscz/mcrouter/internal/shadowing"
)

// Snapshot is one fully-built, immutable routing configuration: a
// route-handle tree per routing prefix, the pools and shadowing
// policies that tree references, and the raw + digested config blob
// it was built from.
type Snapshot struct {
	Digest    string
	RawConfig []byte
	BuiltAt   time.Time

	// Routes maps a normalized "/region/cluster/" routing prefix to the
	// ProxyRoute serving it. DefaultPrefix names the entry used when a
	// request's own prefix isn't present in this map.
	Routes        map[string]*routehandle.ProxyRoute
	DefaultPrefix string

	Pools           map[string]*backend.Pool
	ShadowPolicies  map[string]*shadowing.Policy

	Table *backend.Table
}

// RouteFor resolves the ProxyRoute for prefix, falling back to
// DefaultPrefix when a request names no prefix of its own or an
// unrecognized one.
func (s *Snapshot) RouteFor(prefix string) *routehandle.ProxyRoute {
	if r, ok := s.Routes[prefix]; ok {
		return r
	}
	return s.Routes[s.DefaultPrefix]
}

// NumServers sums client counts across Regular and Regional pools
// only, matching proxy_config_swap's switch statement in the original
// source (Migrated/Other pools are excluded from this gauge).
func (s *Snapshot) NumServers() int {
	total := 0
	for _, p := range s.Pools {
		if p.Kind == backend.KindRegular || p.Kind == backend.KindRegional {
			total += len(p.Clients)
		}
	}
	return total
}

// Close releases everything this snapshot owns exclusively: pool
// back-pointers on every client (the "only if it still matches" guard
// documented on Client.clearPoolIfOwner) and every shadowing policy's
// runtime-vars subscription. It must only be called once the
// snapshot has been fully retired — i.e. from the worker's event loop
// after processing the closeSnapshot entry posted on swap.
func (s *Snapshot) Close() {
	for _, p := range s.Pools {
		p.Destroy()
	}
	for _, policy := range s.ShadowPolicies {
		policy.Close()
	}
}

// Cell is an atomic reader/writer cell over the current Snapshot: Get
// is an O(1) atomic load, Swap is the single writer's atomic store,
// returning the previous snapshot so the caller can schedule its
// deferred Close.
type Cell struct {
	current atomic.Pointer[Snapshot]
}

// NewCell builds a Cell already holding initial.
func NewCell(initial *Snapshot) *Cell {
	c := &Cell{}
	c.current.Store(initial)
	return c
}

// Get returns the current snapshot. Safe to call from any goroutine.
func (c *Cell) Get() *Snapshot {
	return c.current.Load()
}

// Swap installs next as current and returns the snapshot it replaced.
// Only the reconfiguration writer may call Swap; concurrent Swap
// callers would race each other's "previous" result.
func (c *Cell) Swap(next *Snapshot) *Snapshot {
	return c.current.Swap(next)
}
