// Package backend models the external backend connection objects a
// router worker routes requests to.
//
// The actual TCP/UDP transport, keep-alive and timer machinery is an
// external collaborator reached through the Transport interface; this
// package owns the identity, pool back-pointer, TKO state and
// RTT/smoothing bookkeeping a route-handle leaf needs to make routing
// decisions, plus the BackendClientTable mark-unused/sweep lifecycle
// that lets reconfiguration reuse live connections across a config
// reload.
package backend
