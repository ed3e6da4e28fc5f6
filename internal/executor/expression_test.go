package executor

import (
	"testing"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/toolweave"
)

func lookupFrom(values map[string]toolweave.Value) func(toolweave.Reference) (toolweave.Value, bool) {
	return func(ref toolweave.Reference) (toolweave.Value, bool) {
		v, ok := values[ref.TaskID+"."+ref.Field]
		return v, ok
	}
}

func TestEvaluateExpression_Builtins(t *testing.T) {
	values := map[string]toolweave.Value{
		"t1.count": toolweave.Int(3),
		"t1.name":  toolweave.String("Player"),
	}
	tests := []struct {
		expr string
		want toolweave.Value
	}{
		{"$t1.count * 2", toolweave.Number(6)},
		{"$t1.count + $t1.count", toolweave.Number(6)},
		{"max($t1.count, 10)", toolweave.Number(10)},
		{"min($t1.count, 10, 1)", toolweave.Number(1)},
		{"len($t1.name)", toolweave.Number(6)},
		{"lower($t1.name)", toolweave.String("player")},
		{"upper('abc')", toolweave.String("ABC")},
		{"$t1.count > 2", toolweave.Bool(true)},
	}
	for _, tt := range tests {
		got, err := evaluateExpression(tt.expr, functionSet(nil), lookupFrom(values))
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.expr, err)
			continue
		}
		if !got.Equal(tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.expr, tt.want, got)
		}
	}
}

func TestEvaluateExpression_MissingVariable(t *testing.T) {
	if _, err := evaluateExpression("$t9.count + 1", functionSet(nil), lookupFrom(nil)); err == nil {
		t.Error("expected error for unavailable variable")
	}
}

func TestBindVariables_ReusesNames(t *testing.T) {
	rewritten, refs, names := bindVariables("$a.x + $b.y + $a.x")
	if rewritten != "ref_0 + ref_1 + ref_0" {
		t.Errorf("unexpected rewrite %q", rewritten)
	}
	if len(refs) != 2 || len(names) != 2 || refs[1].TaskID != "b" || refs[1].Field != "y" {
		t.Errorf("unexpected references %+v", refs)
	}
}

func TestWithExpressionFunction(t *testing.T) {
	called := false
	exec := NewExecutor(registry, nil, WithExpressionFunction("customAdd", func(args ...any) (any, error) {
		called = true
		return args[0].(float64) + args[1].(float64), nil
	}))
	funcs := exec.Functions()
	if _, ok := funcs["customAdd"]; !ok {
		t.Fatal("customAdd not registered")
	}
	if _, ok := funcs["max"]; !ok {
		t.Error("builtins must stay available")
	}
	res, err := evaluateExpression("customAdd(2, 3)", funcs, lookupFrom(nil))
	if err != nil {
		t.Fatalf("failed to evaluate: %v", err)
	}
	if n, _ := res.AsNumber(); n != 5 {
		t.Errorf("expected 5, got %v", res)
	}
	if !called {
		t.Error("custom function was not called")
	}
}

func TestValidateExpression_SuccessAndFailure(t *testing.T) {
	if err := ValidateExpression("1 + 2", nil); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := ValidateExpression("max($t1.count, 2)", nil); err != nil {
		t.Errorf("expected builtin with variable to validate, got %v", err)
	}
	if err := ValidateExpression("1 + ", nil); err == nil {
		t.Error("expected error for invalid expression, got nil")
	}
	if err := ValidateExpression("nope(1)", nil); err == nil {
		t.Error("expected error for unknown function")
	}
	custom := map[string]govaluate.ExpressionFunction{"nope": func(args ...any) (any, error) { return nil, nil }}
	if err := ValidateExpression("nope(1)", custom); err != nil {
		t.Errorf("expected custom function to validate, got %v", err)
	}
}
