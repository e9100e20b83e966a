package routehandle

import (
	"context"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/stats"
)

// DestinationRoute is a leaf node: it sends the request to exactly one
// backend.Client and records the request_sent/replied/success/error
// stats at the point a request actually reaches a destination.
type DestinationRoute struct {
	Client *backend.Client
	Stats  *stats.Sink
}

// NewDestinationRoute wraps client. sink may be nil in tests that
// don't care about stats accounting.
func NewDestinationRoute(client *backend.Client, sink *stats.Sink) *DestinationRoute {
	return &DestinationRoute{Client: client, Stats: sink}
}

func (d *DestinationRoute) incr(name string) {
	if d.Stats != nil {
		d.Stats.Incr(name)
	}
}

// Dispatch implements RouteHandle.
func (d *DestinationRoute) Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	d.incr(stats.RequestSent)
	d.incr(stats.RequestSentCount)

	reply := d.Client.Send(ctx, rctx.Req)

	d.incr(stats.RequestReplied)
	d.incr(stats.RequestRepliedCount)
	if reply.Result.IsError() {
		d.incr(stats.RequestError)
		d.incr(stats.RequestErrorCount)
	} else {
		d.incr(stats.RequestSuccess)
		d.incr(stats.RequestSuccessCount)
	}

	return reply
}

// CouldRouteTo implements RouteHandle: a leaf's only possible
// destination is itself.
func (d *DestinationRoute) CouldRouteTo(*mcproto.Req) []RouteHandle {
	return []RouteHandle{d}
}

// IsTKO reports whether the wrapped client is currently knocked out,
// satisfying the tkoAware interface FailoverRoute probes for.
func (d *DestinationRoute) IsTKO() bool {
	return d.Client.TKO()
}
