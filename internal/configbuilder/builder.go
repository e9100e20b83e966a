package configbuilder

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kiscz/mcrouter/internal/backend"
	"github.com/kiscz/mcrouter/internal/configsnapshot"
	celeval "github.com/kiscz/mcrouter/internal/eval/cel"
	"github.com/kiscz/mcrouter/internal/mcproto"
	"github.com/kiscz/mcrouter/internal/routehandle"
	"github.com/kiscz/mcrouter/internal/runtimevars"
	"github.com/kiscz/mcrouter/internal/shadowing"
	"github.com/kiscz/mcrouter/internal/stats"
)

// Builder turns one config blob into one Snapshot.
type Builder struct {
	Table       *backend.Table
	Stats       *stats.Sink
	RuntimeVars *runtimevars.Store
	CelEnv      *celeval.Evaluator
	Logger      *zap.Logger

	DefaultRoute string
}

// NewBuilder constructs a Builder. It leaves CelEnv nil; the CEL
// evaluator is created lazily the first time a blob uses
// conditional_routes.
func NewBuilder(table *backend.Table, sink *stats.Sink, rv *runtimevars.Store, defaultRoute string, logger *zap.Logger) *Builder {
	return &Builder{Table: table, Stats: sink, RuntimeVars: rv, DefaultRoute: defaultRoute, Logger: logger}
}

type buildState struct {
	pools map[string]*backend.Pool
	kinds map[string]string // pool name -> raw "kind" string, for migrated resolution
	shadowPolicies map[string]*shadowing.Policy
	shadowPoolOf   map[string]string // shadow policy owner pool -> shadow pool name
}

// Build parses raw and constructs a complete Snapshot, or returns a
// joined error describing every structural problem found — no worker
// is ever handed a partially-built snapshot.
func (b *Builder) Build(raw []byte) (*configsnapshot.Snapshot, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("config-logic: config blob is not valid JSON")
	}

	st := &buildState{
		pools:          make(map[string]*backend.Pool),
		kinds:          make(map[string]string),
		shadowPolicies: make(map[string]*shadowing.Policy),
		shadowPoolOf:   make(map[string]string),
	}

	var errs error

	errs = multierr.Append(errs, b.buildSimplePools(raw, st))
	errs = multierr.Append(errs, b.buildMigratedPools(raw, st))
	errs = multierr.Append(errs, b.buildShadowPolicies(raw, st))

	defaultRoute := gjson.GetBytes(raw, "default_route").String()
	if defaultRoute == "" {
		defaultRoute = b.DefaultRoute
	}
	normalizedDefault, err := normalizePrefix(defaultRoute)
	if err != nil {
		errs = multierr.Append(errs, err)
	}

	routes, routeErr := b.buildRoutes(raw, st)
	errs = multierr.Append(errs, routeErr)

	if errs != nil {
		return nil, errs
	}

	if _, ok := routes[normalizedDefault]; !ok {
		return nil, fmt.Errorf("config-logic: default_route %q has no matching entry in routes", normalizedDefault)
	}

	// Strip the free-form "metadata" field (operator comments, ticket
	// links, etc.) before hashing, so annotating a config without
	// touching its routing semantics doesn't churn config_digest.
	digestable, err := sjson.DeleteBytes(raw, "metadata")
	if err != nil {
		digestable = raw
	}
	sum := md5.Sum(digestable)

	return &configsnapshot.Snapshot{
		Digest:         hex.EncodeToString(sum[:]),
		RawConfig:      append([]byte(nil), raw...),
		BuiltAt:        time.Now(),
		Routes:         routes,
		DefaultPrefix:  normalizedDefault,
		Pools:          st.pools,
		ShadowPolicies: st.shadowPolicies,
		Table:          b.Table,
	}, nil
}

func (b *Builder) buildSimplePools(raw []byte, st *buildState) error {
	var errs error
	gjson.GetBytes(raw, "pools").ForEach(func(name, val gjson.Result) bool {
		kind := val.Get("kind").String()
		st.kinds[name.String()] = kind
		if kind == "migrated" {
			return true // handled in the second pass, once referenced pools exist
		}

		pool, err := b.buildPool(name.String(), kind, val)
		if err != nil {
			errs = multierr.Append(errs, err)
			return true
		}
		st.pools[name.String()] = pool
		return true
	})
	return errs
}

func (b *Builder) buildPool(name, kind string, val gjson.Result) (*backend.Pool, error) {
	var poolKind backend.Kind
	switch kind {
	case "regular", "":
		poolKind = backend.KindRegular
	case "regional":
		poolKind = backend.KindRegional
	case "other":
		poolKind = backend.KindOther
	default:
		return nil, fmt.Errorf("config-logic: pool %q: unknown kind %q", name, kind)
	}

	protocol := val.Get("protocol").String()
	if protocol == "" {
		protocol = "ascii"
	}
	transport := val.Get("transport").String()
	if transport == "" {
		transport = "tcp"
	}

	servers := val.Get("servers").Array()
	if len(servers) == 0 {
		return nil, fmt.Errorf("config-logic: pool %q: servers must be a non-empty array", name)
	}

	pool := backend.NewPool(name, poolKind)
	for _, srv := range servers {
		addr := srv.String()
		if addr == "" {
			return nil, fmt.Errorf("config-logic: pool %q: empty server address", name)
		}
		client := b.Table.LookupOrInsert(backend.Identity{Addr: addr, Protocol: protocol, Transport: transport})
		client.AssignPool(pool)
		pool.Clients = append(pool.Clients, client)
	}

	if ops := val.Get("failover_ops").Array(); len(ops) > 0 {
		names := make([]string, 0, len(ops))
		for _, op := range ops {
			names = append(names, op.String())
		}
		pool.Failover = backend.NewFailoverPolicy(names...)
	}

	return pool, nil
}

func (b *Builder) buildMigratedPools(raw []byte, st *buildState) error {
	var errs error
	gjson.GetBytes(raw, "pools").ForEach(func(name, val gjson.Result) bool {
		if st.kinds[name.String()] != "migrated" {
			return true
		}

		fromName := val.Get("from_pool").String()
		toName := val.Get("to_pool").String()
		from, ok1 := st.pools[fromName]
		to, ok2 := st.pools[toName]
		if !ok1 || !ok2 {
			errs = multierr.Append(errs, fmt.Errorf(
				"config-logic: migrated pool %q: from_pool/to_pool %q/%q must name already-built non-migrated pools",
				name.String(), fromName, toName))
			return true
		}

		start, err := time.Parse(time.RFC3339, val.Get("migration_start").String())
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("config-logic: migrated pool %q: migration_start: %w", name.String(), err))
			return true
		}
		spanSec := val.Get("migration_span_sec").Int()
		if spanSec <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("config-logic: migrated pool %q: migration_span_sec must be positive", name.String()))
			return true
		}

		migrated := backend.NewPool(name.String(), backend.KindMigrated)
		migrated.FromPool = from
		migrated.ToPool = to
		migrated.MigrationStart = start
		migrated.MigrationSpan = time.Duration(spanSec) * time.Second
		migrated.WarmupExptime = uint32(val.Get("warmup_exptime").Uint())

		st.pools[name.String()] = migrated
		return true
	})
	return errs
}

func (b *Builder) buildShadowPolicies(raw []byte, st *buildState) error {
	var errs error
	gjson.GetBytes(raw, "shadowing_policies").ForEach(func(poolName, val gjson.Result) bool {
		owner, ok := st.pools[poolName.String()]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf("config-logic: shadowing_policies: unknown pool %q", poolName.String()))
			return true
		}

		shadowPoolName := val.Get("shadow_pool").String()
		shadowPool, ok := st.pools[shadowPoolName]
		if !ok {
			errs = multierr.Append(errs, fmt.Errorf(
				"config-logic: shadowing_policies: pool %q: shadow_pool %q is not a built pool", poolName.String(), shadowPoolName))
			return true
		}

		idxRange := val.Get("index_range").Array()
		fracRange := val.Get("key_fraction_range").Array()
		if len(idxRange) != 2 || len(fracRange) != 2 {
			errs = multierr.Append(errs, fmt.Errorf(
				"config-logic: shadowing_policies: pool %q: index_range and key_fraction_range must each have 2 elements", poolName.String()))
			return true
		}

		data := &shadowing.Data{
			IndexRange:          [2]int{int(idxRange[0].Int()), int(idxRange[1].Int())},
			KeyFractionRange:    [2]float64{fracRange[0].Float(), fracRange[1].Float()},
			ShadowPool:          shadowPool,
			ShadowType:          orDefault(val.Get("shadow_type").String(), shadowing.DefaultShadowType),
			ValidateReplies:     val.Get("validate_replies").Bool(),
			IndexRangeRV:        val.Get("index_range_rv").String(),
			KeyFractionRangeRV:  val.Get("key_fraction_range_rv").String(),
		}

		onErr := func(err error) {
			if b.Stats != nil {
				b.Stats.Incr(stats.ConfigFailures)
			}
		}
		policy := shadowing.NewPolicy(data, b.RuntimeVars, b.Logger, onErr)

		st.shadowPolicies[owner.Name] = policy
		st.shadowPoolOf[owner.Name] = shadowPoolName
		return true
	})
	return errs
}

func (b *Builder) buildRoutes(raw []byte, st *buildState) (map[string]*routehandle.ProxyRoute, error) {
	routes := make(map[string]*routehandle.ProxyRoute)
	var errs error

	gjson.GetBytes(raw, "routes").ForEach(func(prefix, val gjson.Result) bool {
		normalized, err := normalizePrefix(prefix.String())
		if err != nil {
			errs = multierr.Append(errs, err)
			return true
		}

		root, err := b.buildRouteRoot(val, st)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("config-logic: route %q: %w", normalized, err))
			return true
		}

		if rules := conditionalRulesFor(raw, prefix.String()); len(rules) > 0 {
			root, err = b.wrapConditional(root, rules, st)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("config-logic: route %q: %w", normalized, err))
				return true
			}
		}

		routes[normalized] = routehandle.NewProxyRoute(root)
		return true
	})

	return routes, errs
}

func (b *Builder) buildRouteRoot(val gjson.Result, st *buildState) (routehandle.RouteHandle, error) {
	if failoverNames := val.Get("failover_pools").Array(); len(failoverNames) > 0 {
		children := make([]routehandle.RouteHandle, 0, len(failoverNames))
		var policy *backend.FailoverPolicy
		for i, n := range failoverNames {
			child, err := b.buildPoolRoute(n.String(), st)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
			if i == 0 {
				policy = st.pools[n.String()].Failover
			}
		}
		return routehandle.NewFailoverRoute(policy, children...), nil
	}

	poolName := val.Get("pool").String()
	if poolName == "" {
		return nil, fmt.Errorf("route must set either %q or %q", "pool", "failover_pools")
	}
	return b.buildPoolRoute(poolName, st)
}

func (b *Builder) buildPoolRoute(poolName string, st *buildState) (routehandle.RouteHandle, error) {
	pool, ok := st.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("unknown pool %q", poolName)
	}

	if pool.Kind == backend.KindMigrated {
		fromRoute, err := b.buildShadowedPoolRoute(pool.FromPool, st)
		if err != nil {
			return nil, err
		}
		toRoute, err := b.buildShadowedPoolRoute(pool.ToPool, st)
		if err != nil {
			return nil, err
		}
		return routehandle.NewMigratedRoute(fromRoute, toRoute, pool.MigrationStart, pool.MigrationSpan), nil
	}

	return b.buildShadowedPoolRoute(pool, st)
}

func (b *Builder) buildShadowedPoolRoute(pool *backend.Pool, st *buildState) (*routehandle.PoolRoute, error) {
	policy := st.shadowPolicies[pool.Name]
	if policy == nil {
		return routehandle.NewPoolRoute(pool, b.Stats), nil
	}
	shadowPool := st.pools[st.shadowPoolOf[pool.Name]]
	return routehandle.NewPoolRouteWithShadow(pool, shadowPool, policy, b.Stats), nil
}

type conditionalRule struct {
	Condition  string
	TargetPool string
}

func conditionalRulesFor(raw []byte, prefix string) []conditionalRule {
	path := fmt.Sprintf("conditional_routes.%s", gjson.Escape(prefix))
	arr := gjson.GetBytes(raw, path).Array()
	rules := make([]conditionalRule, 0, len(arr))
	for _, r := range arr {
		rules = append(rules, conditionalRule{
			Condition:  r.Get("condition").String(),
			TargetPool: r.Get("target_pool").String(),
		})
	}
	return rules
}

func (b *Builder) wrapConditional(def routehandle.RouteHandle, rules []conditionalRule, st *buildState) (routehandle.RouteHandle, error) {
	if b.CelEnv == nil {
		env, err := routehandle.NewConditionalRouteEnv()
		if err != nil {
			return nil, fmt.Errorf("building cel environment: %w", err)
		}
		b.CelEnv = env
	}

	specs := make([]routehandle.RuleSpec, 0, len(rules))
	for _, r := range rules {
		target, err := b.buildPoolRoute(r.TargetPool, st)
		if err != nil {
			return nil, fmt.Errorf("conditional rule %q: %w", r.Condition, err)
		}
		specs = append(specs, routehandle.RuleSpec{Condition: r.Condition, Target: target})
	}

	return routehandle.NewConditionalRoute(b.CelEnv, specs, def)
}

func normalizePrefix(s string) (string, error) {
	_, normalized, err := mcproto.ParseRoutingPrefix(s)
	if err != nil {
		return "", err
	}
	return normalized, nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
