// Package mcproto defines the request/reply data model a router worker
// operates on.
//
// The wire codec that produces these values from raw memcache protocol
// bytes is out of scope for this package — mcproto only describes the
// parsed shape a transport hands to the pipeline, and the shape the
// pipeline hands back.
package mcproto
