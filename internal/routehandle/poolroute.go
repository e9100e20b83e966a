package routehandle

import (
	"context"
	"strconv"

	rendezvous "github.com/dgryski/go-rendezvous"
	"github.com/cespare/xxhash/v2"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/shadowing"
	"github.com/kiscz/mcrouter/internal/stats"
)

func xxhashString(s string) uint64 {
	return xxhash.Sum64String(s)
}

// PoolRoute picks one client out of a backend.Pool by rendezvous
// (highest-random-weight) hashing the request key. Candidates are
// named by their index in the pool, so a key keeps landing on the same
// index while the pool layout is unchanged; inserting or removing a
// client renames every client after it and can remap their keys.
type PoolRoute struct {
	Pool     *backend.Pool
	children []RouteHandle

	rv *rendezvous.Rendezvous
}

// NewPoolRoute builds a PoolRoute over every client in pool. sink is
// threaded into each child DestinationRoute for stats accounting.
func NewPoolRoute(pool *backend.Pool, sink *stats.Sink) *PoolRoute {
	names := make([]string, len(pool.Clients))
	children := make([]RouteHandle, len(pool.Clients))
	for i, c := range pool.Clients {
		names[i] = strconv.Itoa(i)
		children[i] = NewDestinationRoute(c, sink)
	}

	var rv *rendezvous.Rendezvous
	if len(names) > 0 {
		rv = rendezvous.New(names, xxhashString)
	}

	return &PoolRoute{Pool: pool, children: children, rv: rv}
}

// NewPoolRouteWithShadow builds a PoolRoute like NewPoolRoute, but
// wraps each index i's destination in a ShadowRoute pointed at
// shadowPool's client at the same index (when shadowPool has one),
// guarded by policy. shadowPool/policy may both be nil, in which case
// this behaves exactly like NewPoolRoute.
func NewPoolRouteWithShadow(pool, shadowPool *backend.Pool, policy *shadowing.Policy, sink *stats.Sink) *PoolRoute {
	names := make([]string, len(pool.Clients))
	children := make([]RouteHandle, len(pool.Clients))
	for i, c := range pool.Clients {
		names[i] = strconv.Itoa(i)
		primary := NewDestinationRoute(c, sink)

		var shadowLeaf RouteHandle
		if shadowPool != nil && i < len(shadowPool.Clients) {
			shadowLeaf = NewDestinationRoute(shadowPool.Clients[i], sink)
		}

		if shadowLeaf != nil && policy != nil {
			children[i] = NewShadowRoute(primary, shadowLeaf, policy, i)
		} else {
			children[i] = primary
		}
	}

	var rv *rendezvous.Rendezvous
	if len(names) > 0 {
		rv = rendezvous.New(names, xxhashString)
	}

	return &PoolRoute{Pool: pool, children: children, rv: rv}
}

// Children exposes the per-index DestinationRoute nodes, for callers
// (ShadowRoute wiring, tests) that need to address a specific index.
func (p *PoolRoute) Children() []RouteHandle {
	return p.children
}

// Dispatch implements RouteHandle.
func (p *PoolRoute) Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	if len(p.children) == 0 {
		return mcproto.NewLocalErrorReply(rctx.Req.Op, "pool route: empty pool "+p.Pool.Name)
	}

	idx := p.indexFor(rctx.Req.Key)
	return p.children[idx].Dispatch(ctx, rctx)
}

func (p *PoolRoute) indexFor(key []byte) int {
	name := p.rv.Lookup(string(key))
	idx, err := strconv.Atoi(name)
	if err != nil {
		return 0
	}
	return idx
}

// CouldRouteTo implements RouteHandle: any client in the pool is a
// possible destination regardless of which one the hash would pick,
// matching foreachPossibleClient's "every client this request could
// reach" semantics.
func (p *PoolRoute) CouldRouteTo(req *mcproto.Req) []RouteHandle {
	out := make([]RouteHandle, 0, len(p.children))
	for _, c := range p.children {
		out = append(out, c.CouldRouteTo(req)...)
	}
	return out
}
