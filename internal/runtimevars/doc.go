// Package runtimevars implements the publish/subscribe runtime
// variable store shadowing policies subscribe to.
//
// The in-process Store is transport-agnostic; redis.go wires it to a
// Redis pub/sub channel so a control plane can push variable updates
// without the worker polling anything.
package runtimevars
