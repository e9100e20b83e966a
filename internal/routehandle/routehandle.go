package routehandle

import (
	"context"

	"github.com/kiscz/mcrouter/internal/mcproto"
)

// RouteHandle is one node of the dispatch tree.
type RouteHandle interface {
	// Dispatch routes rctx's request to completion, returning its reply.
	Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply

	// CouldRouteTo returns every leaf this node could send the given
	// request to, without actually sending it — the traversal
	// foreachPossibleClient and introspection tooling use.
	CouldRouteTo(req *mcproto.Req) []RouteHandle
}

// ForeachPossibleClient is a pure, recursive traversal of every
// destination a request could reach, run synchronously in the
// caller's context with no task spawned. visit is called once per
// leaf reached.
func ForeachPossibleClient(root RouteHandle, req *mcproto.Req, visit func(*DestinationRoute)) {
	for _, child := range root.CouldRouteTo(req) {
		if leaf, ok := child.(*DestinationRoute); ok {
			visit(leaf)
			continue
		}
		ForeachPossibleClient(child, req, visit)
	}
}
