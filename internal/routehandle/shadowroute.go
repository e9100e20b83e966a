package routehandle

import (
	"context"
	"time"

	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/shadowing"
)

// ShadowRoute dispatches primary synchronously and, if the request's
// key falls in the policy's current index/key-fraction window, fires
// a detached copy at Shadow without blocking on or being influenced by
// its reply.
type ShadowRoute struct {
	Primary RouteHandle
	Shadow  RouteHandle
	Policy  *shadowing.Policy
	Index   int
}

// NewShadowRoute builds a ShadowRoute. shadow may be nil, meaning this
// index has no shadow destination configured — Dispatch then behaves
// exactly like Primary alone.
func NewShadowRoute(primary, shadow RouteHandle, policy *shadowing.Policy, index int) *ShadowRoute {
	return &ShadowRoute{Primary: primary, Shadow: shadow, Policy: policy, Index: index}
}

// Dispatch implements RouteHandle.
func (s *ShadowRoute) Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	reply := s.Primary.Dispatch(ctx, rctx)

	if s.Shadow != nil && s.Policy != nil && rctx.MarkShadowed() && s.Policy.ShouldShadow(s.Index, rctx.Req.Key) {
		shadowReq := rctx.Req.CloneForShadow()
		go s.fireShadow(shadowReq)
	}

	return reply
}

func (s *ShadowRoute) fireShadow(req *mcproto.Req) {
	shadowCtx := mcproto.NewRequestContext(req, time.Now())
	// Context cancellation of the original request must not cancel the
	// shadow copy; it runs detached on context.Background().
	s.Shadow.Dispatch(context.Background(), shadowCtx)
}

// CouldRouteTo implements RouteHandle.
func (s *ShadowRoute) CouldRouteTo(req *mcproto.Req) []RouteHandle {
	out := s.Primary.CouldRouteTo(req)
	if s.Shadow != nil {
		out = append(out, s.Shadow.CouldRouteTo(req)...)
	}
	return out
}
