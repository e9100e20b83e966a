package configbuilder

import (
	"fmt"
	"sync"
	"time"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/configsnapshot"
	"github.com/kiscz/mcrouter/internal/stats"
	"github.com/kiscz/mcrouter/internal/worker"
)

// Reloader builds one snapshot per registered worker from the same
// input, aborting entirely (no
// worker swapped) if any one build fails, and otherwise swaps every
// worker and records the config_last_success/config_failures/
// last_config_attempt bookkeeping router_configure performs.
type Reloader struct {
	Stats *stats.Sink

	mu       sync.Mutex
	bindings []binding
}

type binding struct {
	builder *Builder
	worker  *worker.Worker
}

// NewReloader builds an empty Reloader.
func NewReloader(sink *stats.Sink) *Reloader {
	return &Reloader{Stats: sink}
}

// Register binds a (Builder, Worker) pair: every future Reload call
// builds a snapshot for w using builder and swaps it in on success.
func (r *Reloader) Register(builder *Builder, w *worker.Worker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings = append(r.bindings, binding{builder: builder, worker: w})
}

// Reload builds and swaps a fresh snapshot for every registered
// worker from the same raw config blob. Before building, every
// distinct backend.Table behind a registered builder is marked
// all-unused; Build's LookupOrInsert calls clear that mark on every
// client the new config still references, so once every worker has
// swapped to its new snapshot, SweepUnused reclaims whatever client
// the reload dropped instead of leaving it registered forever.
func (r *Reloader) Reload(raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.Stats.Set(stats.LastConfigAttempt, time.Now().Unix())

	tables := r.distinctTables()
	for _, t := range tables {
		t.MarkAllUnused()
	}

	snapshots := make([]*configsnapshot.Snapshot, len(r.bindings))
	for i, b := range r.bindings {
		snap, err := b.builder.Build(raw)
		if err != nil {
			r.Stats.Incr(stats.ConfigFailures)
			return fmt.Errorf("config reload: worker %s: %w", b.worker.ID, err)
		}
		snapshots[i] = snap
	}

	for i, b := range r.bindings {
		b.worker.Reconfigure(snapshots[i])
	}

	for _, t := range tables {
		t.SweepUnused()
	}

	r.Stats.Set(stats.ConfigLastSuccess, time.Now().Unix())
	return nil
}

// distinctTables returns each backend.Table referenced by a registered
// builder exactly once, since multiple workers commonly share one
// table and marking (or sweeping) it twice in one Reload would be
// redundant.
func (r *Reloader) distinctTables() []*backend.Table {
	seen := make(map[*backend.Table]bool, len(r.bindings))
	tables := make([]*backend.Table, 0, len(r.bindings))
	for _, b := range r.bindings {
		if b.builder.Table == nil || seen[b.builder.Table] {
			continue
		}
		seen[b.builder.Table] = true
		tables = append(tables, b.builder.Table)
	}
	return tables
}
