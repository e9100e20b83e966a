package backend

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/kiscz/mcrouter/internal/mcproto"
)

// Transport sends an already-admitted request to a specific backend
// client and waits for its reply. The wire codec and connection
// machinery behind it are out of scope; Transport is the narrow seam
// a route-handle leaf calls through.
type Transport interface {
	Send(ctx context.Context, c *Client, req *mcproto.Req) (*mcproto.Reply, error)
}

// Identity is the (server address, protocol, transport) triple that
// uniquely names a BackendClient.
type Identity struct {
	Addr      string
	Protocol  string
	Transport string
}

// Key returns the canonical string map key for Identity
// ("addr|protocol|transport"); Table's map keys on this string form.
// Hash gives an xxhash of the same string.
func (id Identity) Key() string {
	return id.Addr + "|" + id.Protocol + "|" + id.Transport
}

// Hash returns a fast, non-cryptographic hash of the identity.
func (id Identity) Hash() uint64 {
	return xxhash.Sum64String(id.Key())
}

func (id Identity) String() string {
	return fmt.Sprintf("%s/%s/%s", id.Addr, id.Protocol, id.Transport)
}

// Monitor receives lifecycle notifications about a Client, mirroring
// the monitor hooks proxy_client_monitor_t exposes in the original
// source (on_response / on_down / may_send / remove_client).
type Monitor interface {
	OnResponse(c *Client)
	OnDown(c *Client)
	MaySend(c *Client) bool
	RemoveClient(c *Client)
}

// Client is a live backend connection identity. The actual transport
// connection is out of scope here; Client tracks what the
// route-handle tree and reconfiguration protocol need: current pool
// back-pointer, TKO state, and idle/unused bookkeeping.
type Client struct {
	Identity Identity

	mu        sync.Mutex
	pool      *Pool
	monitor   Monitor
	transport Transport

	tko      atomic.Bool
	unused   atomic.Bool
	lastUsed atomic.Int64 // unix nanos

	rtt RTTWindow
}

func newClient(id Identity) *Client {
	c := &Client{Identity: id}
	c.rtt.avg.alpha = kExponentialFactor
	c.rtt.min.alpha = kExponentialFactor
	c.rtt.peak.alpha = kExponentialFactor
	c.touch()
	return c
}

func (c *Client) touch() {
	c.lastUsed.Store(time.Now().UnixNano())
}

// TKO reports whether the client is currently temporarily knocked out.
func (c *Client) TKO() bool { return c.tko.Load() }

// SetTKO marks (or clears) the client's TKO state, notifying the
// monitor if one is registered.
func (c *Client) SetTKO(down bool) {
	c.tko.Store(down)
	c.mu.Lock()
	mon := c.monitor
	c.mu.Unlock()
	if mon == nil {
		return
	}
	if down {
		mon.OnDown(c)
	} else {
		mon.OnResponse(c)
	}
}

// SetMonitor installs the client monitor hooks.
func (c *Client) SetMonitor(m Monitor) {
	c.mu.Lock()
	c.monitor = m
	c.mu.Unlock()
}

// AssignPool sets this client's current pool back-pointer. Called by
// the config builder when (re)building a snapshot's pools, including
// when an existing client is reused by a new pool object during
// reconfiguration.
func (c *Client) AssignPool(p *Pool) {
	c.mu.Lock()
	c.pool = p
	c.mu.Unlock()
}

// Pool returns the client's current pool back-pointer, or nil.
func (c *Client) Pool() *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool
}

// clearPoolIfOwner clears the client's pool back-pointer only if it
// still points at p: a pool destructor must not clobber a
// back-pointer that reconfiguration has already reassigned to a newer
// pool. Pointer identity is safe to use
// directly here because Go's GC never reuses a live object's address,
// unlike the generation-tagged check the original C++ needs.
func (c *Client) clearPoolIfOwner(p *Pool) {
	c.mu.Lock()
	if c.pool == p {
		c.pool = nil
	}
	c.mu.Unlock()
}

// RecordRTT feeds a single round-trip sample into this client's
// smoothing window.
func (c *Client) RecordRTT(d time.Duration) {
	c.touch()
	c.rtt.Insert(d)
}

// RTT exposes the client's min/avg/peak smoothing window.
func (c *Client) RTT() *RTTWindow { return &c.rtt }

// SetTransport installs the transport used by Send. A client with no
// transport installed always fails Send with a connect-error reply,
// which is useful for tests that only exercise routing decisions.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	c.transport = t
	c.mu.Unlock()
}

// Send dispatches req to this client over its installed transport,
// recording an RTT sample regardless of outcome and touching the
// client's last-used timestamp. It never panics on a missing
// transport; it returns a connect-error reply instead so a route-handle
// leaf can treat "no transport wired" the same as "backend down."
func (c *Client) Send(ctx context.Context, req *mcproto.Req) *mcproto.Reply {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()

	c.touch()

	if t == nil {
		return &mcproto.Reply{Op: req.Op, Result: mcproto.ResultConnectError}
	}

	start := time.Now()
	reply, err := t.Send(ctx, c, req)
	c.RecordRTT(time.Since(start))

	if err != nil {
		return &mcproto.Reply{Op: req.Op, Result: mcproto.ResultRemoteError, Value: []byte(err.Error())}
	}
	return reply
}
