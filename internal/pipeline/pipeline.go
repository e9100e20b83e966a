package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	strcase "github.com/stoewer/go-strcase"

	"github.com/kiscz/mcrouter/internal/configsnapshot"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/stats"
)

// opLabel gives each Op a PascalCase identifier distinct from its
// wire-visible String() form, so deriving a stat name is an actual
// case conversion (via go-strcase) rather than just concatenation.
var opLabel = map[mcproto.Op]string{
	mcproto.OpGet:            "Get",
	mcproto.OpSet:            "Set",
	mcproto.OpAdd:            "Add",
	mcproto.OpReplace:        "Replace",
	mcproto.OpDelete:         "Delete",
	mcproto.OpIncr:           "Incr",
	mcproto.OpDecr:           "Decr",
	mcproto.OpMetaGet:        "MetaGet",
	mcproto.OpLeaseGet:       "LeaseGet",
	mcproto.OpLeaseSet:       "LeaseSet",
	mcproto.OpStats:          "Stats",
	mcproto.OpVersion:        "Version",
	mcproto.OpGetServiceInfo: "GetServiceInfo",
	mcproto.OpOther:          "Other",
}

func cmdStatName(op mcproto.Op) string {
	label := opLabel[op]
	if label == "" {
		label = "Other"
	}
	return "cmd_" + strcase.SnakeCase(label) + "_stat"
}

func cmdCountStatName(op mcproto.Op) string {
	label := opLabel[op]
	if label == "" {
		label = "Other"
	}
	return "cmd_" + strcase.SnakeCase(label) + "_count_stat"
}

// Pipeline is RequestPipeline: it owns the admission/rate-limit gate,
// the FIFO of requests waiting on that gate, and the stat bookkeeping
// around dispatching a request into the current config snapshot's
// route-handle tree. Admit, Pump, Begin and Finish are called only from
// internal/worker's single event-loop goroutine, so the waiting queue
// and inflight counter need no locking of their own; Dispatch runs on
// task goroutines and touches neither.
type Pipeline struct {
	Cell        *configsnapshot.Cell
	Stats       *stats.Sink
	ServiceInfo *configsnapshot.ServiceInfo

	// MaxInflightRequests caps concurrently-processing, non-bypass
	// requests; 0 disables the limit (and the waiting queue) entirely.
	MaxInflightRequests int

	inflight int
	waiting  []*mcproto.Req
}

// NewPipeline builds a Pipeline bound to cell/sink/serviceInfo.
func NewPipeline(cell *configsnapshot.Cell, sink *stats.Sink, serviceInfo *configsnapshot.ServiceInfo, maxInflight int) *Pipeline {
	return &Pipeline{Cell: cell, Stats: sink, ServiceInfo: serviceInfo, MaxInflightRequests: maxInflight}
}

// Admit applies the rate-limit gate: ops marked IsBypass (stats,
// version, get_service_info) always admit immediately, overtaking
// anything already sitting in the waiting queue. Every other request
// admits immediately iff the waiting queue is empty and fewer than
// MaxInflightRequests are currently processing; otherwise req is
// appended to the FIFO waiting queue and Admit returns false, meaning
// the caller must not begin processing it now. A waiting request is
// handed back, in admission order, by a later Pump call once a slot
// frees up. A true return must be paired with exactly one later
// Finish call to release its slot.
func (p *Pipeline) Admit(req *mcproto.Req) bool {
	if req.Op.IsBypass() || p.MaxInflightRequests <= 0 {
		return true
	}
	if len(p.waiting) == 0 && p.inflight < p.MaxInflightRequests {
		p.inflight++
		return true
	}
	p.waiting = append(p.waiting, req)
	return false
}

// Pump promotes the head of the waiting queue once a processing slot
// has freed up, preserving admission order. It returns nil when the
// limit is disabled, nothing is waiting, or the limit is still
// reached — the caller should stop pumping on a nil result.
func (p *Pipeline) Pump() *mcproto.Req {
	if p.MaxInflightRequests <= 0 || len(p.waiting) == 0 || p.inflight >= p.MaxInflightRequests {
		return nil
	}
	req := p.waiting[0]
	p.waiting = p.waiting[1:]
	p.inflight++
	return req
}

// Begin marks an admitted request as actively processing: increments
// the per-op cmd_<op>_stat counter and proxy_reqs_processing_stat.
func (p *Pipeline) Begin(req *mcproto.Req) {
	p.Stats.Incr(cmdStatName(req.ClientVisibleOp()))
	p.Stats.Incr(stats.ProxyReqsProcessing)
}

// Dispatch resolves the request's routing prefix against the current
// snapshot and walks the matching route-handle tree. It is safe to
// call from a task goroutine; it touches no worker-owned state other
// than reading the Cell, which is lock-free.
func (p *Pipeline) Dispatch(ctx context.Context, req *mcproto.Req) *mcproto.Reply {
	snap := p.Cell.Get()
	if snap == nil {
		return mcproto.NewLocalErrorReply(req.Op, "no config snapshot loaded")
	}

	prefix := snap.DefaultPrefix
	if rawPrefix, rest, ok := mcproto.SplitRoutingPrefix(req.Key); ok {
		if _, normalized, err := mcproto.ParseRoutingPrefix(rawPrefix); err == nil {
			prefix = normalized
			req.Key = rest
		}
	}

	route := snap.RouteFor(prefix)
	if route == nil {
		return mcproto.NewLocalErrorReply(req.Op, fmt.Sprintf("no route configured for prefix %q", prefix))
	}

	rctx := mcproto.NewRequestContext(req, time.Now())
	return route.Dispatch(ctx, rctx)
}

// Process is the full per-request entry point: it short-circuits
// stats and get_service_info on the caller's own context (these never
// run inside a route-handle task, so their errors surface directly as
// local-error replies here rather than through Finish's finalizer),
// and otherwise dispatches into the route-handle tree.
func (p *Pipeline) Process(ctx context.Context, req *mcproto.Req) *mcproto.Reply {
	switch req.Op {
	case mcproto.OpStats:
		return p.statsReply(req)
	case mcproto.OpGetServiceInfo:
		return p.serviceInfoReply(req)
	default:
		return p.Dispatch(ctx, req)
	}
}

func (p *Pipeline) statsReply(req *mcproto.Req) *mcproto.Reply {
	snapshot := p.Stats.Snapshot()
	names := make([]string, 0, len(snapshot))
	for name := range snapshot {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "STAT %s %d\r\n", name, snapshot[name])
	}
	b.WriteString("END\r\n")

	return &mcproto.Reply{Op: req.Op, Result: mcproto.ResultOK, Value: []byte(b.String())}
}

func (p *Pipeline) serviceInfoReply(req *mcproto.Req) *mcproto.Reply {
	if p.ServiceInfo == nil {
		return mcproto.NewLocalErrorReply(req.Op, "service-info: not configured")
	}
	reply, ok := p.ServiceInfo.Describe(req)
	if !ok {
		return mcproto.NewLocalErrorReply(req.Op, fmt.Sprintf("service-info: unknown key %q", string(req.Key)))
	}
	return reply
}

// DrainWaiting removes and returns every request currently sitting in
// the waiting queue, in FIFO order, clearing the queue. It is meant
// for worker shutdown, so a request parked on the rate-limit gate
// still gets a terminal reply instead of hanging forever.
func (p *Pipeline) DrainWaiting() []*mcproto.Req {
	drained := p.waiting
	p.waiting = nil
	return drained
}

// Finish is the finalize step: it must run on the worker's event-loop
// goroutine. It releases the request's admission slot, decrements the
// processing and outstanding gauges, increments the per-op
// cmd_<op>_count_stat counter, and delivers reply to the caller via
// req.SetReply. Reply/success/error counters are not touched here;
// DestinationRoute records them per backend send.
func (p *Pipeline) Finish(req *mcproto.Req, reply *mcproto.Reply) {
	p.Stats.Decr(stats.ProxyReqsProcessing)
	p.Stats.Decr(stats.ProxyRequestNumOutstanding)
	p.Stats.Incr(cmdCountStatName(req.ClientVisibleOp()))

	if !req.Op.IsBypass() && p.MaxInflightRequests > 0 {
		p.inflight--
	}

	req.SetReply(reply)
}
