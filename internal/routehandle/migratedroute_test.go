package routehandle

import (
	"context"
	"testing"
	"time"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/mcproto"
)

func newPoolRouteClient(t *testing.T, addr string, reply *mcproto.Reply) *PoolRoute {
	t.Helper()
	pool := backend.NewPool("p", backend.KindMigrated)
	table := backend.NewTable()
	c := table.LookupOrInsert(backend.Identity{Addr: addr, Protocol: "ascii", Transport: "tcp"})
	c.SetTransport(&fakeTransport{reply: reply})
	pool.Clients = []*backend.Client{c}
	return NewPoolRoute(pool, nil)
}

func TestMigratedRouteReadsGoThroughFromDuringWarmup(t *testing.T) {
	from := newPoolRouteClient(t, "from:11211", &mcproto.Reply{Result: mcproto.ResultOK, Value: []byte("from")})
	to := newPoolRouteClient(t, "to:11211", &mcproto.Reply{Result: mcproto.ResultOK, Value: []byte("to")})

	m := NewMigratedRoute(from, to, time.Now(), time.Hour)
	reply := m.Dispatch(context.Background(), newCtx(&mcproto.Req{Op: mcproto.OpGet, Key: []byte("k")}))
	if string(reply.Value) != "from" {
		t.Fatalf("expected read served by From during warm-up, got %q", reply.Value)
	}
}

func TestMigratedRouteWritesDualRouteDuringWarmup(t *testing.T) {
	from := newPoolRouteClient(t, "from:11211", &mcproto.Reply{Result: mcproto.ResultStored})
	fired := make(chan struct{}, 1)
	to := newPoolRouteWithRecordingTransport(t, "to:11211", fired)

	m := NewMigratedRoute(from, to, time.Now(), time.Hour)
	req := &mcproto.Req{Op: mcproto.OpSet, Key: []byte("k"), Value: []byte("v")}
	reply := m.Dispatch(context.Background(), newCtx(req))
	if reply.Result != mcproto.ResultStored {
		t.Fatalf("expected write reply to come from From, got %v", reply.Result)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("expected write to also fire detached at To during warm-up")
	}
}

func TestMigratedRouteAfterWarmupGoesToOnly(t *testing.T) {
	from := newPoolRouteClient(t, "from:11211", &mcproto.Reply{Result: mcproto.ResultOK, Value: []byte("from")})
	to := newPoolRouteClient(t, "to:11211", &mcproto.Reply{Result: mcproto.ResultOK, Value: []byte("to")})

	m := NewMigratedRoute(from, to, time.Now().Add(-2*time.Hour), time.Hour)
	reply := m.Dispatch(context.Background(), newCtx(&mcproto.Req{Op: mcproto.OpGet, Key: []byte("k")}))
	if string(reply.Value) != "to" {
		t.Fatalf("expected read served by To after warm-up window, got %q", reply.Value)
	}
}

func TestMigratedRouteWarmingUpBoundary(t *testing.T) {
	start := time.Now().Add(-30 * time.Minute)
	m := &MigratedRoute{Start: start, Span: time.Hour}
	if !m.WarmingUp(time.Now()) {
		t.Fatal("expected still warming up 30m into a 1h window")
	}
	if m.WarmingUp(start.Add(2 * time.Hour)) {
		t.Fatal("expected warm-up window to have elapsed")
	}
}

func TestMigratedRouteCouldRouteToIncludesBothPools(t *testing.T) {
	from := newPoolRouteClient(t, "from:11211", nil)
	to := newPoolRouteClient(t, "to:11211", nil)
	m := NewMigratedRoute(from, to, time.Now(), time.Hour)

	got := m.CouldRouteTo(&mcproto.Req{Op: mcproto.OpGet})
	if len(got) != 2 {
		t.Fatalf("expected both From and To pools' clients reported, got %d", len(got))
	}
}

func newPoolRouteWithRecordingTransport(t *testing.T, addr string, done chan struct{}) *PoolRoute {
	t.Helper()
	pool := backend.NewPool("p", backend.KindMigrated)
	table := backend.NewTable()
	c := table.LookupOrInsert(backend.Identity{Addr: addr, Protocol: "ascii", Transport: "tcp"})
	c.SetTransport(&recordingTransport{done: done})
	pool.Clients = []*backend.Client{c}
	return NewPoolRoute(pool, nil)
}
