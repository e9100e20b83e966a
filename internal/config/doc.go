// Package config provides process-level configuration for a router worker.
//
// Configuration is loaded from environment variables and validated on
// startup. All configuration options have sensible defaults for
// development. This is distinct from the routing configuration blob
// consumed by internal/configbuilder, which describes pools, clients and
// the route-handle tree rather than process settings.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg)
package config
