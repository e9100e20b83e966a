package cel

import (
	"context"
	"testing"
)

func TestCompileAndTestMatchingCondition(t *testing.T) {
	eval := NewEvaluator()
	cond, err := eval.Compile(`req.op == "get"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	vars := map[string]interface{}{"req": map[string]interface{}{"op": "get", "key": "k"}}
	matched, err := cond.Test(context.Background(), vars)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if !matched {
		t.Fatal("expected condition to match")
	}

	vars["req"].(map[string]interface{})["op"] = "set"
	matched, err = cond.Test(context.Background(), vars)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if matched {
		t.Fatal("expected condition not to match for a different op")
	}
}

func TestCompileRejectsMalformedExpression(t *testing.T) {
	eval := NewEvaluator()
	if _, err := eval.Compile(`req.op === nonsense(`); err == nil {
		t.Fatal("expected a compile error for malformed CEL")
	}
}

func TestCompileRejectsNonBoolResult(t *testing.T) {
	eval := NewEvaluator()
	if _, err := eval.Compile(`req.op`); err == nil {
		t.Fatal("expected a compile error for a non-bool result type")
	}
}

func TestConditionStringReturnsSource(t *testing.T) {
	eval := NewEvaluator()
	cond, err := eval.Compile(`req.op == "get"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if cond.String() != `req.op == "get"` {
		t.Fatalf("expected String() to return the source expression, got %q", cond.String())
	}
}

func TestCompiledConditionIsReusableAcrossCalls(t *testing.T) {
	eval := NewEvaluator()
	cond, err := eval.Compile(`req.key == "k"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	for i := 0; i < 5; i++ {
		matched, err := cond.Test(context.Background(), map[string]interface{}{"req": map[string]interface{}{"key": "k"}})
		if err != nil {
			t.Fatalf("Test: %v", err)
		}
		if !matched {
			t.Fatalf("expected match on iteration %d", i)
		}
	}
}
