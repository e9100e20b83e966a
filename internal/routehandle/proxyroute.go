package routehandle

import (
	"context"

	"github.com/kiscz/mcrouter/internal/mcproto"
)

// ProxyRoute is the tree root: it delegates unconditionally to
// whichever child the config builder resolved for the request's
// routing prefix, the "default route" entry point into the tree.
type ProxyRoute struct {
	Root RouteHandle
}

// NewProxyRoute wraps root.
func NewProxyRoute(root RouteHandle) *ProxyRoute {
	return &ProxyRoute{Root: root}
}

// Dispatch implements RouteHandle.
func (p *ProxyRoute) Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	if p.Root == nil {
		return mcproto.NewLocalErrorReply(rctx.Req.Op, "proxy route: no route configured")
	}
	return p.Root.Dispatch(ctx, rctx)
}

// CouldRouteTo implements RouteHandle.
func (p *ProxyRoute) CouldRouteTo(req *mcproto.Req) []RouteHandle {
	if p.Root == nil {
		return nil
	}
	return p.Root.CouldRouteTo(req)
}
