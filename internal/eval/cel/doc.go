// Package cel provides a CEL (Common Expression Language) evaluator used to
// compile and run conditional-route rule conditions.
//
// CEL is a non-Turing complete expression language that provides fast, safe
// evaluation of conditions for routing decisions.
//
// Example usage:
//
//	evaluator := cel.NewEvaluator()
//
//	cond, err := evaluator.Compile(`req.op == "get"`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	vars := map[string]interface{}{
//	    "req": map[string]interface{}{
//	        "op":  "get",
//	        "key": "user:42",
//	    },
//	}
//
//	matched, err := cond.Test(ctx, vars)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Supported operations:
//   - Comparisons: ==, !=, <, <=, >, >=
//   - Boolean logic: &&, ||, !
//   - String operations: contains, startsWith, endsWith, matches
//   - Arithmetic: +, -, *, /, %
//   - List operations: in, size
//   - Map access: req.field, req["field"]
package cel
