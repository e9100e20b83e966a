package worker

import (
	"context"
	"testing"
	"time"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/configsnapshot"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/pipeline"
	"github.com/kiscz/mcrouter/internal/routehandle"
	"github.com/kiscz/mcrouter/internal/stats"
)

type okTransport struct{}

func (okTransport) Send(ctx context.Context, c *backend.Client, req *mcproto.Req) (*mcproto.Reply, error) {
	return &mcproto.Reply{Op: req.Op, Result: mcproto.ResultOK, Value: []byte("v")}, nil
}

func newTestWorker(t *testing.T) (*Worker, *configsnapshot.Cell, *stats.Sink) {
	t.Helper()
	table := backend.NewTable()
	client := table.LookupOrInsert(backend.Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	client.SetTransport(okTransport{})
	route := routehandle.NewProxyRoute(routehandle.NewDestinationRoute(client, nil))

	snap := &configsnapshot.Snapshot{
		Routes:        map[string]*routehandle.ProxyRoute{"/a/b/": route},
		DefaultPrefix: "/a/b/",
		Table:         table,
	}
	cell := configsnapshot.NewCell(snap)
	sink := stats.NewSink()
	pl := pipeline.NewPipeline(cell, sink, nil, 0)

	w := NewWorker(Config{
		ID:                    "w0",
		QueueSize:             16,
		Pipeline:              pl,
		Cell:                  cell,
		Stats:                 sink,
		Table:                 table,
		RTTFlushInterval:      time.Hour,
		BackendSweepInterval:  time.Hour,
		ResetInactiveInterval: time.Hour,
	})
	return w, cell, sink
}

func submitAndWait(t *testing.T, w *Worker, req *mcproto.Req, done chan *mcproto.Reply) {
	t.Helper()
	w.Submit(req)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected request to be replied within 2s")
	}
}

func TestWorkerSubmitAndDispatchRoundTrip(t *testing.T) {
	w, _, _ := newTestWorker(t)
	go w.Run()
	defer w.Stop()

	done := make(chan *mcproto.Reply, 1)
	req, err := mcproto.NewReq(mcproto.OpGet, []byte("/a/b/key"), nil, 0, 0, 0, "s", func(r *mcproto.Reply) { done <- r })
	if err != nil {
		t.Fatalf("NewReq: %v", err)
	}

	submitAndWait(t, w, req, done)
}

// TestWorkerQueuesOverMaxInflightAndPromotesFIFOOnCompletion exercises
// scenario S1: with MaxInflightRequests=2, submitting three GETs (A, B,
// C) back to back before any of them reply admits A and B into
// processing immediately and parks C on the rate-limit gate; completing
// A promotes C into processing, in FIFO order, rather than leaving it
// rejected.
func TestWorkerQueuesOverMaxInflightAndPromotesFIFOOnCompletion(t *testing.T) {
	table := backend.NewTable()

	// A and C share destination clientA (blocked on blockA); B gets its
	// own destination clientB (blocked on blockB, released only at the
	// end of the test) so A and B can be held "processing"
	// independently of each other.
	blockA := make(chan struct{})
	blockB := make(chan struct{})
	defer close(blockB)

	clientA := table.LookupOrInsert(backend.Identity{Addr: "a:11211", Protocol: "ascii", Transport: "tcp"})
	clientA.SetTransport(blockingTransport{block: blockA})
	clientB := table.LookupOrInsert(backend.Identity{Addr: "b:11211", Protocol: "ascii", Transport: "tcp"})
	clientB.SetTransport(blockingTransport{block: blockB})

	routeA := routehandle.NewProxyRoute(routehandle.NewDestinationRoute(clientA, nil))
	routeB := routehandle.NewProxyRoute(routehandle.NewDestinationRoute(clientB, nil))

	snap := &configsnapshot.Snapshot{
		Routes: map[string]*routehandle.ProxyRoute{
			"/x/a/": routeA,
			"/x/b/": routeB,
		},
		DefaultPrefix: "/x/a/",
		Table:         table,
	}
	cell := configsnapshot.NewCell(snap)
	sink := stats.NewSink()
	pl := pipeline.NewPipeline(cell, sink, nil, 2)
	w := NewWorker(Config{
		ID:                    "w0",
		QueueSize:             8,
		Pipeline:              pl,
		Cell:                  cell,
		Stats:                 sink,
		Table:                 table,
		RTTFlushInterval:      time.Hour,
		BackendSweepInterval:  time.Hour,
		ResetInactiveInterval: time.Hour,
	})
	go w.Run()
	defer w.Stop()

	repliedA := make(chan *mcproto.Reply, 1)
	repliedB := make(chan *mcproto.Reply, 1)
	repliedC := make(chan *mcproto.Reply, 1)

	reqA, err := mcproto.NewReq(mcproto.OpGet, []byte("/x/a/k"), nil, 0, 0, 0, "s", func(r *mcproto.Reply) { repliedA <- r })
	if err != nil {
		t.Fatalf("NewReq A: %v", err)
	}
	reqB, err := mcproto.NewReq(mcproto.OpGet, []byte("/x/b/k"), nil, 0, 0, 0, "s", func(r *mcproto.Reply) { repliedB <- r })
	if err != nil {
		t.Fatalf("NewReq B: %v", err)
	}
	reqC, err := mcproto.NewReq(mcproto.OpGet, []byte("/x/a/k"), nil, 0, 0, 0, "s", func(r *mcproto.Reply) { repliedC <- r })
	if err != nil {
		t.Fatalf("NewReq C: %v", err)
	}

	// A and B both block in the route-handle tree, so they stay
	// "processing" rather than completing before C is submitted.
	w.Submit(reqA)
	w.Submit(reqB)
	waitForStat(t, sink, stats.ProxyReqsProcessing, 2)

	w.Submit(reqC)
	waitForStat(t, sink, stats.ProxyReqsWaiting, 1)
	select {
	case <-repliedC:
		t.Fatal("expected C to wait rather than receive an immediate reply")
	case <-time.After(50 * time.Millisecond):
	}

	// Release A; once it completes, C should be promoted into
	// processing (reusing the now-free clientA) and eventually replied.
	close(blockA)

	select {
	case r := <-repliedA:
		if r.Result != mcproto.ResultOK {
			t.Fatalf("expected A to succeed, got %v", r.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected A to be replied after release")
	}

	select {
	case r := <-repliedC:
		if r.Result != mcproto.ResultOK {
			t.Fatalf("expected C to succeed once promoted, got %v", r.Result)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected C to be promoted and replied after A completed")
	}

	select {
	case <-repliedB:
		t.Fatal("B should still be blocked on blockB, not replied")
	default:
	}
}

func waitForStat(t *testing.T, sink *stats.Sink, name string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sink.Get(name) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for stat %s == %d, got %d", name, want, sink.Get(name))
}

// blockingTransport holds every Send for a matching key open until
// block is closed, so a test can keep a request "processing" for as
// long as it needs to assert on waiting-queue behavior.
type blockingTransport struct {
	block chan struct{}
}

func (b blockingTransport) Send(ctx context.Context, c *backend.Client, req *mcproto.Req) (*mcproto.Reply, error) {
	<-b.block
	return &mcproto.Reply{Op: req.Op, Result: mcproto.ResultOK, Value: []byte("v")}, nil
}

func TestWorkerReconfigureSwapsCellAndPostsCloseSnapshot(t *testing.T) {
	w, cell, sink := newTestWorker(t)
	go w.Run()
	defer w.Stop()

	table := backend.NewTable()
	closedPool := backend.NewPool("closed", backend.KindRegular)
	c := table.LookupOrInsert(backend.Identity{Addr: "x:11211", Protocol: "ascii", Transport: "tcp"})
	closedPool.Clients = []*backend.Client{c}
	c.AssignPool(closedPool)

	first := cell.Get()
	_ = first

	oldSnap := &configsnapshot.Snapshot{
		Routes:        map[string]*routehandle.ProxyRoute{},
		DefaultPrefix: "/a/b/",
		Pools:         map[string]*backend.Pool{"closed": closedPool},
		Table:         table,
	}
	cell.Swap(oldSnap) // simulate the worker's current snapshot being oldSnap

	nextSnap := &configsnapshot.Snapshot{
		Routes:        map[string]*routehandle.ProxyRoute{},
		DefaultPrefix: "/a/b/",
		Table:         table,
	}
	w.Reconfigure(nextSnap)

	if cell.Get() != nextSnap {
		t.Fatal("expected Reconfigure to swap the cell to the new snapshot")
	}
	if sink.Get(stats.NumServers) != int64(nextSnap.NumServers()) {
		t.Fatal("expected num_servers_stat updated to the new snapshot's count")
	}

	// The old snapshot's close is posted onto the worker's own queue and
	// processed by the event loop; give it a moment to run.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Pool() == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected the old snapshot's pools to be torn down by the event loop")
}

func TestWorkerSubmitAfterStopGetsTerminalReply(t *testing.T) {
	w, _, _ := newTestWorker(t)
	go w.Run()

	w.Stop()

	replied := make(chan *mcproto.Reply, 1)
	req, err := mcproto.NewReq(mcproto.OpGet, []byte("/a/b/key"), nil, 0, 0, 0, "s", func(r *mcproto.Reply) { replied <- r })
	if err != nil {
		t.Fatalf("NewReq: %v", err)
	}
	w.Submit(req)

	select {
	case r := <-replied:
		if r.Result != mcproto.ResultLocalError && r.Result != mcproto.ResultBusy {
			t.Fatalf("expected a terminal reply after shutdown, got %v", r.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Submit after Stop to reply rather than hang")
	}
}
