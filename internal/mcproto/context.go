package mcproto

import (
	"sync"
	"time"
)

// RequestContext is the per-request bookkeeping the route-handle tree
// and the pipeline both need, grouped alongside Req/Reply. It is
// created once per admitted Req and lives for exactly that
// request's lifetime; only the worker's event-loop goroutine may
// destroy it, though route-handle dispatch (which may run on a task
// goroutine) reads and mutates the counters below directly since they
// are themselves synchronized.
type RequestContext struct {
	Req       *Req
	StartTime time.Time

	mu               sync.Mutex
	failoverAttempts int
	shadowed         bool
}

// NewRequestContext starts a context for req, stamping StartTime now.
func NewRequestContext(req *Req, now time.Time) *RequestContext {
	return &RequestContext{Req: req, StartTime: now}
}

// Elapsed returns the time since the context was created, relative to now.
func (c *RequestContext) Elapsed(now time.Time) time.Duration {
	return now.Sub(c.StartTime)
}

// IncrFailoverAttempts records one more failover attempt and returns
// the new count. FailoverRoute calls it once per child it dispatches
// to; the count does not cap retries.
func (c *RequestContext) IncrFailoverAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failoverAttempts++
	return c.failoverAttempts
}

// MarkShadowed reports whether this call is the first to mark the
// context shadowed, so a ShadowRoute nested under a FailoverRoute's
// retried children fires the shadow copy at most once per request.
func (c *RequestContext) MarkShadowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.shadowed {
		return false
	}
	c.shadowed = true
	return true
}
