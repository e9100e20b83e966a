package backend

import (
	"sync"
	"time"
)

// Kind distinguishes the Pool variants.
type Kind int

const (
	KindRegular Kind = iota
	KindRegional
	KindMigrated
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "regular"
	case KindRegional:
		return "regional"
	case KindMigrated:
		return "migrated"
	default:
		return "other"
	}
}

// FailoverPolicy marks which operations a pool allows failing over to
// a sibling child, mirroring proxy_pool_failover_policy_t's per-op
// bitmap in the original source.
type FailoverPolicy struct {
	mu      sync.RWMutex
	allowed map[string]bool
}

// NewFailoverPolicy builds a policy allowing failover for the given
// op names (e.g. "get", "lease_get"); an empty set means "no op fails
// over."
func NewFailoverPolicy(ops ...string) *FailoverPolicy {
	m := make(map[string]bool, len(ops))
	for _, op := range ops {
		m[op] = true
	}
	return &FailoverPolicy{allowed: m}
}

// Allows reports whether op is eligible for failover under this policy.
func (f *FailoverPolicy) Allows(op string) bool {
	if f == nil {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.allowed[op]
}

// Pool is an immutable-once-built collection of backend clients,
// grouped by one of the Kind variants above.
type Pool struct {
	// id disambiguates pool instances across reconfigurations in logs;
	// it is not part of routing identity.
	id int64

	Name string
	Kind Kind

	// Clients holds the pool's backend clients. Ownership is
	// conceptually "weak" (the BackendClientTable is the sole owner);
	// in Go this is modeled as an ordinary slice of
	// pointers plus the Destroy() discipline below rather than an
	// actual weak-reference type, since Go's GC already reclaims a
	// Client once the table drops it and nothing else holds it.
	Clients []*Client

	Failover *FailoverPolicy

	// Migrated-pool fields, populated only when Kind == KindMigrated.
	FromPool       *Pool
	ToPool         *Pool
	MigrationStart time.Time
	MigrationSpan  time.Duration
	WarmupExptime  uint32
}

var poolIDs int64

// NewPool creates a pool of the given kind and name, with an
// auto-assigned debug id.
func NewPool(name string, kind Kind) *Pool {
	poolIDs++
	return &Pool{id: poolIDs, Name: name, Kind: kind}
}

// WarmingUp reports whether a migrated pool is still inside its
// warm-up window relative to now.
func (p *Pool) WarmingUp(now time.Time) bool {
	if p.Kind != KindMigrated {
		return false
	}
	return now.Before(p.MigrationStart.Add(p.MigrationSpan))
}

// Destroy clears the pool back-pointer on every client that still
// points at this pool instance, and nothing else — mirroring
// ProxyPool::~ProxyPool in the original source exactly, including its
// "only if it still matches" guard.
func (p *Pool) Destroy() {
	for _, c := range p.Clients {
		c.clearPoolIfOwner(p)
	}
}
