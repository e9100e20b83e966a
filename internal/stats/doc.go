// Package stats implements the write-only counter/gauge sink a worker
// exposes to its pipeline, route-handle tree and config reloader.
//
// Counters are lock-free, single-writer per worker (the worker's own
// goroutines are the only writers); readers take a point-in-time
// snapshot. Aggregation across workers, if ever needed, is the
// reader's responsibility and is explicitly best-effort.
//
// The process-wide statistics store this sink would ultimately report
// into is out of scope here — this package only implements the
// increment/set contract against an external collaborator.
package stats
