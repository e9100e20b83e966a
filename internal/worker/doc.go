// Package worker implements the per-worker event loop: the single
// goroutine that owns RequestContext lifecycle, config snapshot
// release, and stat finalization.
//
// A Worker accepts submitted requests on a buffered channel from any
// number of producer goroutines (an MPSC queue), applies the admission
// gate on its loop, spawns one task goroutine per routed request to
// walk the route-handle tree, and is the
// only reader of the outcome channel those tasks report back on —
// the same processWork/handleMessage shape dago-node-router uses for
// its own event loop, turned around here to drain outcomes instead
// of inbound work.
package worker
