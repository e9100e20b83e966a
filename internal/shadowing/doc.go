// Package shadowing implements ShadowingPolicy, the configuration a
// ShadowRoute consults to decide whether a given request should also
// be mirrored to a shadow pool.
//
// A policy's ranges can be overridden live through a runtimevars.Store
// subscription; malformed updates are rejected without disturbing the
// policy's current snapshot, matching the original
// proxy_pool_shadowing_policy_t::registerOnUpdateCallback.
package shadowing
