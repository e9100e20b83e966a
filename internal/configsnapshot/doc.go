// Package configsnapshot holds the config hot-swap machinery: an
// immutable Snapshot of a fully-built route-handle tree plus pools,
// a Cell giving O(1) atomic reads and single-writer swaps of the
// current snapshot, and a ServiceInfo renderer for the
// "__mcrouter__." introspection namespace.
package configsnapshot
