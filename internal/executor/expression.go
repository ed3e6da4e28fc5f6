package executor

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/toolweave"
)

// exprVarPattern matches $taskId.field references inside expressions.
var exprVarPattern = regexp.MustCompile(`\$([A-Za-z0-9_\-]+)\.([A-Za-z0-9_]+)`)

// builtinFunctions are always available to parameter expressions.
var builtinFunctions = map[string]govaluate.ExpressionFunction{
	"len": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return float64(len(v)), nil
		case []any:
			return float64(len(v)), nil
		case map[string]any:
			return float64(len(v)), nil
		case nil:
			return 0.0, nil
		}
		return nil, fmt.Errorf("len: unsupported argument %T", args[0])
	},
	"max":   numericFold("max", math.Max),
	"min":   numericFold("min", math.Min),
	"lower": stringFunc("lower", strings.ToLower),
	"upper": stringFunc("upper", strings.ToUpper),
}

func numericFold(name string, fold func(a, b float64) float64) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) == 0 {
			return nil, fmt.Errorf("%s expects at least 1 argument", name)
		}
		var acc float64
		for i, a := range args {
			n, ok := a.(float64)
			if !ok {
				return nil, fmt.Errorf("%s: argument %d is %T, not a number", name, i, a)
			}
			if i == 0 {
				acc = n
				continue
			}
			acc = fold(acc, n)
		}
		return acc, nil
	}
}

func stringFunc(name string, fn func(string) string) govaluate.ExpressionFunction {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("%s: argument is %T, not a string", name, args[0])
		}
		return fn(s), nil
	}
}

// functionSet merges the builtins with caller-registered functions.
func functionSet(custom map[string]govaluate.ExpressionFunction) map[string]govaluate.ExpressionFunction {
	out := make(map[string]govaluate.ExpressionFunction, len(builtinFunctions)+len(custom))
	for k, v := range builtinFunctions {
		out[k] = v
	}
	for k, v := range custom {
		out[k] = v
	}
	return out
}

// bindVariables rewrites $task.field references into govaluate parameter
// names and returns the rewritten expression with the references in order.
func bindVariables(expr string) (string, []toolweave.Reference, []string) {
	var refs []toolweave.Reference
	var names []string
	seen := make(map[string]string)
	rewritten := exprVarPattern.ReplaceAllStringFunc(expr, func(match string) string {
		if name, ok := seen[match]; ok {
			return name
		}
		m := exprVarPattern.FindStringSubmatch(match)
		name := fmt.Sprintf("ref_%d", len(names))
		seen[match] = name
		refs = append(refs, toolweave.Reference{TaskID: m[1], Field: m[2], Raw: match})
		names = append(names, name)
		return name
	})
	return rewritten, refs, names
}

// ValidateExpression checks that expr parses with the given functions.
func ValidateExpression(expr string, custom map[string]govaluate.ExpressionFunction) error {
	rewritten, _, _ := bindVariables(expr)
	_, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, functionSet(custom))
	return err
}

// evaluateExpression evaluates expr with each $task.field bound through lookup.
func evaluateExpression(expr string, functions map[string]govaluate.ExpressionFunction, lookup func(toolweave.Reference) (toolweave.Value, bool)) (toolweave.Value, error) {
	rewritten, refs, names := bindVariables(expr)
	evaluable, err := govaluate.NewEvaluableExpressionWithFunctions(rewritten, functions)
	if err != nil {
		return toolweave.Null(), fmt.Errorf("failed to parse expression %q: %w", expr, err)
	}

	params := make(map[string]any, len(refs))
	for i, ref := range refs {
		v, ok := lookup(ref)
		if !ok {
			return toolweave.Null(), fmt.Errorf("expression %q: %s is not available", expr, ref.Raw)
		}
		params[names[i]] = v.Interface()
	}

	result, err := evaluable.Evaluate(params)
	if err != nil {
		return toolweave.Null(), fmt.Errorf("failed to evaluate expression %q: %w", expr, err)
	}
	return toolweave.ParseValue(result), nil
}
