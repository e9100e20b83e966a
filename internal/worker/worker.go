package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/configsnapshot"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/pipeline"
	"github.com/kiscz/mcrouter/internal/stats"
)

// queueEntry is the single kind of thing a Worker's request queue
// ever carries: either a freshly admitted request, or a closeSnapshot
// marker posted by Reconfigure so the old snapshot is torn down on
// the event-loop goroutine instead of wherever Reconfigure happened to
// be called from, mirroring old_config_req_t in the original source.
type queueEntry struct {
	req           *mcproto.Req
	closeSnapshot *configsnapshot.Snapshot
}

type outcome struct {
	req   *mcproto.Req
	reply *mcproto.Reply
}

// Worker is the single-threaded event loop: one goroutine owns
// RequestContext lifecycle, snapshot release and stat finalization;
// task goroutines it spawns report back over outcomes and never
// touch any of that directly.
type Worker struct {
	ID string

	ctx    context.Context
	cancel context.CancelFunc

	queue    chan queueEntry
	outcomes chan outcome
	done     chan struct{}

	Pipeline *pipeline.Pipeline
	Cell     *configsnapshot.Cell
	Stats    *stats.Sink
	Table    *backend.Table
	AsyncLog AsyncLogWriter
	Logger   *zap.Logger

	RTTFlushInterval     time.Duration
	BackendSweepInterval time.Duration
	ResetInactiveInterval time.Duration
}

// Config bundles Worker construction parameters.
type Config struct {
	ID                    string
	QueueSize             int
	Pipeline              *pipeline.Pipeline
	Cell                  *configsnapshot.Cell
	Stats                 *stats.Sink
	Table                 *backend.Table
	AsyncLog              AsyncLogWriter
	Logger                *zap.Logger
	RTTFlushInterval      time.Duration
	BackendSweepInterval  time.Duration
	ResetInactiveInterval time.Duration
}

// NewWorker builds a Worker. It does not start the event loop; call Run.
func NewWorker(cfg Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	if cfg.AsyncLog == nil {
		cfg.AsyncLog = NewMemoryAsyncLogWriter()
	}

	return &Worker{
		ID:                    cfg.ID,
		ctx:                   ctx,
		cancel:                cancel,
		queue:                 make(chan queueEntry, cfg.QueueSize),
		outcomes:              make(chan outcome, cfg.QueueSize),
		done:                  make(chan struct{}),
		Pipeline:              cfg.Pipeline,
		Cell:                  cfg.Cell,
		Stats:                 cfg.Stats,
		Table:                 cfg.Table,
		AsyncLog:              cfg.AsyncLog,
		Logger:                cfg.Logger,
		RTTFlushInterval:      cfg.RTTFlushInterval,
		BackendSweepInterval:  cfg.BackendSweepInterval,
		ResetInactiveInterval: cfg.ResetInactiveInterval,
	}
}

// Submit hands req to the worker: charges it to
// proxy_reqs_waiting_stat and proxy_request_num_outstanding_stat right
// away, then enqueues it for the event loop to pick up. The event loop
// alone decides whether req clears the admission/rate-limit gate
// immediately or sits in the Pipeline's FIFO waiting queue until a
// slot frees up — Submit itself never rejects a request. Safe to call
// from any goroutine.
func (w *Worker) Submit(req *mcproto.Req) {
	if w.ctx.Err() != nil {
		req.SetReply(mcproto.NewLocalErrorReply(req.Op, "worker shutting down"))
		return
	}
	w.Stats.Incr(stats.ProxyReqsWaiting)
	w.Stats.Incr(stats.ProxyRequestNumOutstanding)

	select {
	case w.queue <- queueEntry{req: req}:
	case <-w.ctx.Done():
		w.Stats.Decr(stats.ProxyReqsWaiting)
		w.Stats.Decr(stats.ProxyRequestNumOutstanding)
		req.SetReply(mcproto.NewLocalErrorReply(req.Op, "worker shutting down"))
	}
}

// Reconfigure installs next as the worker's current snapshot and
// schedules the previous one's teardown on the event loop, matching
// router_configure's per-worker swap-then-post-old-config behavior.
func (w *Worker) Reconfigure(next *configsnapshot.Snapshot) {
	old := w.Cell.Swap(next)
	w.Stats.Set(stats.NumServers, int64(next.NumServers()))
	if old == nil {
		return
	}

	entry := queueEntry{closeSnapshot: old}
	select {
	case w.queue <- entry:
	case <-w.ctx.Done():
		old.Close()
	default:
		// The queue has no room right now (or no loop is receiving yet):
		// post from a goroutine so the caller never waits on this loop.
		go func() {
			select {
			case w.queue <- entry:
			case <-w.ctx.Done():
				old.Close()
			}
		}()
	}
}

// Run drives the event loop until Stop is called (or the worker's own
// context is otherwise canceled), then drains the queue with terminal
// busy replies and returns. It is meant to be called once, typically
// from its own goroutine.
func (w *Worker) Run() {
	rttTicker := time.NewTicker(w.RTTFlushInterval)
	defer rttTicker.Stop()
	sweepTicker := time.NewTicker(w.BackendSweepInterval)
	defer sweepTicker.Stop()

	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			w.shutdown()
			return

		case entry := <-w.queue:
			if entry.closeSnapshot != nil {
				entry.closeSnapshot.Close()
				continue
			}
			w.admitAndDispatch(entry.req)

		case out := <-w.outcomes:
			w.Pipeline.Finish(out.req, out.reply)
			w.logOutcome(out)
			w.pump()

		case <-rttTicker.C:
			w.flushRTT()

		case <-sweepTicker.C:
			w.sweepBackends()
		}
	}
}

// admitAndDispatch is called only from the event-loop goroutine. A
// request that doesn't clear the admission/rate-limit gate stays
// charged to proxy_reqs_waiting_stat and sits in the Pipeline's FIFO
// waiting queue; pump promotes it once a slot frees up. A request that
// does clear the gate moves on to beginAndDispatch right away.
func (w *Worker) admitAndDispatch(req *mcproto.Req) {
	if !w.Pipeline.Admit(req) {
		return
	}
	w.beginAndDispatch(req)
}

// beginAndDispatch moves req from waiting to processing and starts it
// on its way: stats and get_service_info are processed and finalized
// right here on the main context, since those never touch the
// route-handle tree and gain nothing from a task goroutine.
// Everything else is handed to a task goroutine that walks the
// route-handle tree and reports the outcome back over w.outcomes for
// this same loop to finalize; a panic inside that task becomes a
// local-error reply carrying the key and the panic value. Called only
// from the event-loop goroutine, either directly from
// admitAndDispatch or via pump.
func (w *Worker) beginAndDispatch(req *mcproto.Req) {
	w.Stats.Decr(stats.ProxyReqsWaiting)
	w.Pipeline.Begin(req)

	if req.Op == mcproto.OpStats || req.Op == mcproto.OpGetServiceInfo {
		reply := w.Pipeline.Process(w.ctx, req)
		w.Pipeline.Finish(req, reply)
		w.logOutcome(outcome{req: req, reply: reply})
		w.pump()
		return
	}

	go func() {
		var reply *mcproto.Reply
		func() {
			defer func() {
				if r := recover(); r != nil {
					reply = mcproto.NewLocalErrorReply(req.Op, fmt.Sprintf("%s: %v", string(req.Key), r))
				}
			}()
			reply = w.Pipeline.Dispatch(w.ctx, req)
		}()
		select {
		case w.outcomes <- outcome{req: req, reply: reply}:
		case <-w.ctx.Done():
		}
	}()
}

// pump drains as much of the Pipeline's waiting queue as the
// admission/rate-limit gate currently allows, promoting each request
// it pops in FIFO order. Called after every Finish, since that is the
// only event that can free up a slot.
func (w *Worker) pump() {
	for {
		req := w.Pipeline.Pump()
		if req == nil {
			return
		}
		w.beginAndDispatch(req)
	}
}

func (w *Worker) logOutcome(out outcome) {
	if w.AsyncLog == nil {
		return
	}
	_ = w.AsyncLog.Log(AsyncLogEntry{
		ID:        uuid.New(),
		Op:        out.req.ClientVisibleOp().String(),
		Result:    out.reply.Result.String(),
		Key:       string(out.req.Key),
		Timestamp: time.Now(),
	})
}

func (w *Worker) flushRTT() {
	if w.Table == nil {
		return
	}
	for _, c := range w.Table.All() {
		min, avg, peak := c.RTT().Flush()
		w.Stats.Set(stats.RTTMin, min)
		w.Stats.Set(stats.RTT, avg)
		w.Stats.Set(stats.RTTMax, peak)
	}
}

func (w *Worker) sweepBackends() {
	if w.Table == nil {
		return
	}
	removed := w.Table.ResetInactive(w.ResetInactiveInterval)
	if removed > 0 && w.Logger != nil {
		w.Logger.Info("swept inactive backend clients",
			zap.String("worker_id", w.ID),
			zap.Int("removed", removed),
		)
	}
}

// shutdown drains whatever is left in the queue and in the Pipeline's
// rate-limit waiting list, replying busy to every still-pending
// request so no caller is left waiting forever.
func (w *Worker) shutdown() {
	for _, req := range w.Pipeline.DrainWaiting() {
		w.Stats.Decr(stats.ProxyReqsWaiting)
		w.Stats.Decr(stats.ProxyRequestNumOutstanding)
		req.SetReply(&mcproto.Reply{
			Op:     req.Op,
			Result: mcproto.ResultBusy,
			Value:  []byte("worker shutting down"),
		})
	}

	for {
		select {
		case entry := <-w.queue:
			if entry.closeSnapshot != nil {
				entry.closeSnapshot.Close()
				continue
			}
			w.Stats.Decr(stats.ProxyReqsWaiting)
			w.Stats.Decr(stats.ProxyRequestNumOutstanding)
			entry.req.SetReply(&mcproto.Reply{
				Op:     entry.req.Op,
				Result: mcproto.ResultBusy,
				Value:  []byte("worker shutting down"),
			})
		default:
			return
		}
	}
}

// Stop cancels the event loop and blocks until Run has returned.
func (w *Worker) Stop() {
	w.cancel()
	<-w.done
}
