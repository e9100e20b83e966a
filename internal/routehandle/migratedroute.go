package routehandle

import (
	"context"
	"time"

	"github.com/kiscz/mcrouter/internal/mcproto"
)

// MigratedRoute implements the ProxyMigratedPool warm-up window:
// before Start+Span has elapsed, reads go through From and writes go
// through both, with To's copy fired detached and the reply coming
// from From; after, everything goes through To only.
type MigratedRoute struct {
	From *PoolRoute
	To   *PoolRoute

	Start time.Time
	Span  time.Duration
}

// NewMigratedRoute builds a MigratedRoute.
func NewMigratedRoute(from, to *PoolRoute, start time.Time, span time.Duration) *MigratedRoute {
	return &MigratedRoute{From: from, To: to, Start: start, Span: span}
}

// WarmingUp reports whether now falls inside the migration's warm-up window.
func (m *MigratedRoute) WarmingUp(now time.Time) bool {
	return now.Before(m.Start.Add(m.Span))
}

// Dispatch implements RouteHandle.
func (m *MigratedRoute) Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	now := time.Now()
	if !m.WarmingUp(now) {
		return m.To.Dispatch(ctx, rctx)
	}

	if rctx.Req.Op.IsWrite() {
		shadowReq := rctx.Req.CloneForShadow()
		go func() {
			shadowCtx := mcproto.NewRequestContext(shadowReq, time.Now())
			m.To.Dispatch(context.Background(), shadowCtx)
		}()
		return m.From.Dispatch(ctx, rctx)
	}

	return m.From.Dispatch(ctx, rctx)
}

// CouldRouteTo implements RouteHandle.
func (m *MigratedRoute) CouldRouteTo(req *mcproto.Req) []RouteHandle {
	out := m.From.CouldRouteTo(req)
	out = append(out, m.To.CouldRouteTo(req)...)
	return out
}
