package routehandle

import (
	"context"
	"fmt"

	celeval "github.com/kiscz/mcrouter/internal/eval/cel"
	"github.com/kiscz/mcrouter/internal/mcproto"
)

// RuleSpec is one CEL-guarded branch of a ConditionalRoute.
type RuleSpec struct {
	Condition string
	Target    RouteHandle
}

type compiledRule struct {
	condition *celeval.Condition
	target    RouteHandle
}

// ConditionalRoute adapts dago-node-router's deterministic CEL
// routing into the memcache domain: it evaluates each rule's
// condition in order over a small view of the request and dispatches
// to the first whose condition is true, falling back to Default. Every
// rule's condition is compiled exactly once, at route-build time, so
// dispatch never revisits compilation or a shared cache.
type ConditionalRoute struct {
	rules   []compiledRule
	Default RouteHandle
}

// NewConditionalRouteEnv builds the Evaluator ConditionalRoute
// expressions run against: a single "req" map with op, key, region and
// cluster fields, per celeval.Evaluator's declaration. requestView
// always sets region and cluster to the empty string.
func NewConditionalRouteEnv() (*celeval.Evaluator, error) {
	return celeval.NewEvaluator(), nil
}

// NewConditionalRoute compiles every rule's condition against eval and
// builds a ConditionalRoute. Compilation failures are returned
// immediately; per the config-builder's all-or-nothing semantics, a
// route that fails to compile should never be swapped into a live
// snapshot.
func NewConditionalRoute(eval *celeval.Evaluator, rules []RuleSpec, def RouteHandle) (*ConditionalRoute, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cond, err := eval.Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("config-logic: conditional route: compiling %q: %w", r.Condition, err)
		}
		compiled = append(compiled, compiledRule{condition: cond, target: r.Target})
	}
	return &ConditionalRoute{rules: compiled, Default: def}, nil
}

func requestView(req *mcproto.Req) map[string]interface{} {
	region, cluster := "", ""
	return map[string]interface{}{
		"op":      req.Op.String(),
		"key":     string(req.Key),
		"region":  region,
		"cluster": cluster,
	}
}

// Dispatch implements RouteHandle.
func (c *ConditionalRoute) Dispatch(ctx context.Context, rctx *mcproto.RequestContext) *mcproto.Reply {
	vars := map[string]interface{}{"req": requestView(rctx.Req)}
	for _, rule := range c.rules {
		matched, err := rule.condition.Test(ctx, vars)
		if err != nil {
			continue
		}
		if matched {
			return rule.target.Dispatch(ctx, rctx)
		}
	}
	if c.Default != nil {
		return c.Default.Dispatch(ctx, rctx)
	}
	return mcproto.NewLocalErrorReply(rctx.Req.Op, "conditional route: no rule matched and no default configured")
}

// CouldRouteTo implements RouteHandle: since rule conditions are
// data-dependent, every branch (including Default) is reported as a
// possible destination.
func (c *ConditionalRoute) CouldRouteTo(req *mcproto.Req) []RouteHandle {
	out := make([]RouteHandle, 0, len(c.rules)+1)
	for _, rule := range c.rules {
		out = append(out, rule.target.CouldRouteTo(req)...)
	}
	if c.Default != nil {
		out = append(out, c.Default.CouldRouteTo(req)...)
	}
	return out
}
