// Package configbuilder implements the JSON config blob parser, the
// route-handle tree builder, and the reloader that swaps a built
// snapshot into every registered worker.
//
// The config blob is a JSON document shaped like:
//
//	{
//	  "default_route": "/us/cluster1/",
//	  "pools": {
//	    "poolA": {"kind": "regular", "servers": ["10.0.0.1:11211"], "protocol": "ascii", "transport": "tcp", "failover_ops": ["get"]},
//	    "poolA_to_poolB": {"kind": "migrated", "from_pool": "poolA", "to_pool": "poolB",
//	                        "migration_start": "2026-08-01T00:00:00Z", "migration_span_sec": 3600}
//	  },
//	  "routes": {"/us/cluster1/": {"pool": "poolA"}},
//	  "shadowing_policies": {
//	    "poolA": {"index_range": [0, 10], "key_fraction_range": [0, 0.1], "shadow_pool": "poolShadow"}
//	  },
//	  "conditional_routes": {
//	    "/us/cluster1/": [{"condition": "req.op == 'get'", "target_pool": "poolA"}]
//	  }
//	}
//
// Building is all-or-nothing: every structural problem in the blob is
// collected (via go.uber.org/multierr) rather than stopping at the
// first one, and a build that returns any error leaves every worker's
// current snapshot untouched, per router_configure's contract.
package configbuilder
