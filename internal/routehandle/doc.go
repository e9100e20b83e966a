// Package routehandle implements the route-handle tree: the
// composable dispatch graph a RequestPipeline walks to turn an
// admitted request into a reply.
//
// Every node implements RouteHandle. The specific selection
// algorithms (consistent hashing, failover ordering, shadow sampling,
// migration warm-up) are each given one concrete, minimal
// implementation so the tree is actually dispatchable and testable
// rather than a faithful reimplementation of any particular
// production algorithm.
package routehandle
