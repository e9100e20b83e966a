package configbuilder

import (
	"testing"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/configsnapshot"
	"github.com/kiscz/mcrouter/internal/pipeline"
	"github.com/kiscz/mcrouter/internal/stats"
	"github.com/kiscz/mcrouter/internal/worker"
)

func newTestWorker(t *testing.T, sink *stats.Sink) *worker.Worker {
	t.Helper()
	cell := configsnapshot.NewCell(&configsnapshot.Snapshot{})
	pl := pipeline.NewPipeline(cell, sink, nil, 0)
	return worker.NewWorker(worker.Config{
		ID:       "w0",
		Cell:     cell,
		Stats:    sink,
		Pipeline: pl,
		Table:    backend.NewTable(),
	})
}

func TestReloaderReloadSwapsEveryRegisteredWorker(t *testing.T) {
	sink := stats.NewSink()
	w1 := newTestWorker(t, sink)
	w2 := newTestWorker(t, sink)

	b1 := NewBuilder(backend.NewTable(), sink, nil, "/a/b/", nil)
	b2 := NewBuilder(backend.NewTable(), sink, nil, "/a/b/", nil)

	r := NewReloader(sink)
	r.Register(b1, w1)
	r.Register(b2, w2)

	if err := r.Reload([]byte(simpleConfig)); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	if w1.Cell.Get().DefaultPrefix != "/a/b/" {
		t.Fatal("expected w1's cell swapped to the new snapshot")
	}
	if w2.Cell.Get().DefaultPrefix != "/a/b/" {
		t.Fatal("expected w2's cell swapped to the new snapshot")
	}
	if sink.Get(stats.ConfigLastSuccess) == 0 {
		t.Fatal("expected config_last_success_stat to be recorded")
	}
}

func TestReloaderReloadSweepsClientsDroppedFromTheNewConfig(t *testing.T) {
	sink := stats.NewSink()
	table := backend.NewTable()
	w1 := worker.NewWorker(worker.Config{
		ID:       "w0",
		Cell:     configsnapshot.NewCell(&configsnapshot.Snapshot{}),
		Stats:    sink,
		Pipeline: pipeline.NewPipeline(configsnapshot.NewCell(&configsnapshot.Snapshot{}), sink, nil, 0),
		Table:    table,
	})

	// A client from a server this config no longer references; it
	// should be swept once the reload completes.
	stale := table.LookupOrInsert(backend.Identity{Addr: "stale:11211", Protocol: "ascii", Transport: "tcp"})
	_ = stale

	b1 := NewBuilder(table, sink, nil, "/a/b/", nil)
	r := NewReloader(sink)
	r.Register(b1, w1)

	if err := r.Reload([]byte(simpleConfig)); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	for _, c := range table.All() {
		if c == stale {
			t.Fatal("expected the stale client to be swept after reload")
		}
	}
}

func TestReloaderReloadAbortsAllOnAnyBuildFailure(t *testing.T) {
	sink := stats.NewSink()
	w1 := newTestWorker(t, sink)
	w2 := newTestWorker(t, sink)

	before1 := w1.Cell.Get()
	before2 := w2.Cell.Get()

	b1 := NewBuilder(backend.NewTable(), sink, nil, "/a/b/", nil)
	b2 := NewBuilder(backend.NewTable(), sink, nil, "/a/b/", nil)

	r := NewReloader(sink)
	r.Register(b1, w1)
	r.Register(b2, w2)

	if err := r.Reload([]byte("not json")); err == nil {
		t.Fatal("expected Reload to fail for invalid config")
	}

	if w1.Cell.Get() != before1 {
		t.Fatal("expected w1's snapshot untouched after an aborted reload")
	}
	if w2.Cell.Get() != before2 {
		t.Fatal("expected w2's snapshot untouched after an aborted reload")
	}
	if sink.Get(stats.ConfigFailures) == 0 {
		t.Fatal("expected config_failures_stat to be recorded")
	}
}
