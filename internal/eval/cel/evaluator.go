package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/checker/decls"
)

// Evaluator owns the CEL environment every conditional-route rule
// compiles against: a single "req" map variable exposing op/key/region/
// cluster to rule expressions.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates the shared conditional-route CEL environment.
func NewEvaluator() *Evaluator {
	env, err := cel.NewEnv(
		cel.Declarations(
			decls.NewVar("req", decls.NewMapType(decls.String, decls.Dyn)),
		),
	)
	if err != nil {
		panic(fmt.Sprintf("failed to create CEL environment: %v", err))
	}

	return &Evaluator{env: env}
}

// Condition is one rule's CEL expression, already parsed, type-checked
// and linked into a runnable program. Compiling a condition once at
// config-build time — rather than lazily on first dispatch, keyed by
// its source string in a shared cache — means a malformed or
// non-boolean rule is rejected before its snapshot is ever swapped in,
// and dispatch never pays a cache lookup or a type assertion against
// the rule it already validated.
type Condition struct {
	source  string
	program cel.Program
}

// Compile parses and type-checks expression, rejecting anything that
// fails to compile or doesn't evaluate to a bool — the only shape a
// conditional route rule condition may take.
func (e *Evaluator) Compile(expression string) (*Condition, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("parse error: %w", issues.Err())
	}
	if outType := ast.OutputType(); outType.String() != "bool" {
		return nil, fmt.Errorf("expression %q must evaluate to bool, got %s", expression, outType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program generation error: %w", err)
	}

	return &Condition{source: expression, program: program}, nil
}

// Test runs the compiled condition against vars. ctx is accepted for
// symmetry with the rest of the route-handle tree's Dispatch signature
// even though CEL evaluation itself is synchronous and non-blocking.
func (c *Condition) Test(_ context.Context, vars map[string]interface{}) (bool, error) {
	out, _, err := c.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("condition %q: evaluation failed: %w", c.source, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("condition %q: did not evaluate to a bool", c.source)
	}
	return b, nil
}

// String returns the condition's source expression, for logging and
// error messages.
func (c *Condition) String() string {
	return c.source
}
