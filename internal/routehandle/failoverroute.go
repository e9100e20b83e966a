package routehandle

import (
	"context"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/mcproto"
)

// tkoAware is implemented by leaves that can report their own
// knocked-out state, so FailoverRoute can skip a dead destination
// before spending an attempt on it.
type tkoAware interface {
	IsTKO() bool
}

// FailoverRoute tries its children in order, skipping any that report
// TKO, and stops at the first reply that is not a backend-observable
// error. A request with FailoverDisabled set (shadow copies), or whose
// op the Policy does not allow (a nil Policy allows none), always goes
// to the first eligible child and never retries.
type FailoverRoute struct {
	Children []RouteHandle
	Policy   *backend.FailoverPolicy
}

// NewFailoverRoute builds a FailoverRoute over children in priority order.
func NewFailoverRoute(policy *backend.FailoverPolicy, children ...RouteHandle) *FailoverRoute {
	return &FailoverRoute{Children: children, Policy: policy}
}

// Dispatch implements RouteHandle.
func (f *FailoverRoute) Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	if len(f.Children) == 0 {
		return mcproto.NewLocalErrorReply(rctx.Req.Op, "failover route: no children configured")
	}

	if rctx.Req.FailoverDisabled || !f.Policy.Allows(rctx.Req.Op.String()) {
		return f.dispatchFirstEligible(ctx, rctx)
	}

	var last *mcproto.Reply
	for _, child := range f.Children {
		if tk, ok := child.(tkoAware); ok && tk.IsTKO() {
			continue
		}
		rctx.IncrFailoverAttempts()
		reply := child.Dispatch(ctx, rctx)
		if !reply.Result.IsError() {
			return reply
		}
		last = reply
	}

	if last != nil {
		return last
	}
	return mcproto.NewLocalErrorReply(rctx.Req.Op, "failover route: every child is tko'd")
}

func (f *FailoverRoute) dispatchFirstEligible(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	for _, child := range f.Children {
		if tk, ok := child.(tkoAware); ok && tk.IsTKO() {
			continue
		}
		return child.Dispatch(ctx, rctx)
	}
	return mcproto.NewLocalErrorReply(rctx.Req.Op, "failover route: every child is tko'd")
}

// CouldRouteTo implements RouteHandle.
func (f *FailoverRoute) CouldRouteTo(req *mcproto.Req) []RouteHandle {
	out := make([]RouteHandle, 0, len(f.Children))
	for _, c := range f.Children {
		out = append(out, c.CouldRouteTo(req)...)
	}
	return out
}
