package routehandle

import (
	"context"
	"testing"
	"time"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/shadowing"
)

func newPoolWithClients(t *testing.T, n int) *backend.Pool {
	t.Helper()
	table := backend.NewTable()
	pool := backend.NewPool("p", backend.KindRegular)
	for i := 0; i < n; i++ {
		c := table.LookupOrInsert(backend.Identity{Addr: string(rune('a' + i)) + ":11211", Protocol: "ascii", Transport: "tcp"})
		pool.Clients = append(pool.Clients, c)
	}
	return pool
}

func TestPoolRouteDispatchEmptyPoolIsLocalError(t *testing.T) {
	pool := backend.NewPool("empty", backend.KindRegular)
	pr := NewPoolRoute(pool, nil)

	req := &mcproto.Req{Op: mcproto.OpGet, Key: []byte("k")}
	reply := pr.Dispatch(context.Background(), newCtx(req))
	if reply.Result != mcproto.ResultLocalError {
		t.Fatalf("expected local error for empty pool, got %v", reply.Result)
	}
}

func TestPoolRouteDispatchIsStableForSameKey(t *testing.T) {
	pool := newPoolWithClients(t, 5)
	for _, c := range pool.Clients {
		c.SetTransport(&fakeTransport{reply: &mcproto.Reply{Result: mcproto.ResultOK}})
	}
	pr := NewPoolRoute(pool, nil)

	req := &mcproto.Req{Op: mcproto.OpGet, Key: []byte("stable-key")}
	first := pr.indexFor(req.Key)
	for i := 0; i < 10; i++ {
		if got := pr.indexFor(req.Key); got != first {
			t.Fatalf("expected rendezvous hashing to be stable for the same key, got %d vs %d", got, first)
		}
	}
}

func TestPoolRouteCouldRouteToReturnsEveryClient(t *testing.T) {
	pool := newPoolWithClients(t, 3)
	pr := NewPoolRoute(pool, nil)

	got := pr.CouldRouteTo(&mcproto.Req{Op: mcproto.OpGet, Key: []byte("k")})
	if len(got) != 3 {
		t.Fatalf("expected 3 possible destinations, got %d", len(got))
	}
}

func TestPoolRouteWithShadowFiresShadowForMatchingPolicy(t *testing.T) {
	primaryPool := newPoolWithClients(t, 2)
	shadowPool := newPoolWithClients(t, 2)
	for _, c := range primaryPool.Clients {
		c.SetTransport(&fakeTransport{reply: &mcproto.Reply{Result: mcproto.ResultOK}})
	}

	fired := make(chan struct{}, 2)
	for _, c := range shadowPool.Clients {
		c.SetTransport(&recordingTransport{done: fired})
	}

	data := &shadowing.Data{
		IndexRange:         [2]int{0, 10},
		KeyFractionRange:   [2]float64{0, 1},
		ShadowPool:         shadowPool,
		ShadowType:         shadowing.DefaultShadowType,
		IndexRangeRV:       "index_range",
		KeyFractionRangeRV: "key_fraction_range",
	}
	policy := shadowing.NewPolicy(data, nil, nil, nil)

	pr := NewPoolRouteWithShadow(primaryPool, shadowPool, policy, nil)
	req := &mcproto.Req{Op: mcproto.OpGet, Key: []byte("k"), Value: nil}
	reply := pr.Dispatch(context.Background(), newCtx(req))
	if reply.Result != mcproto.ResultOK {
		t.Fatalf("expected primary reply ResultOK, got %v", reply.Result)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected shadow dispatch to fire asynchronously within 1s")
	}
}

type recordingTransport struct {
	done chan struct{}
}

func (r *recordingTransport) Send(ctx context.Context, c *backend.Client, req *mcproto.Req) (*mcproto.Reply, error) {
	r.done <- struct{}{}
	return &mcproto.Reply{Result: mcproto.ResultOK}, nil
}
