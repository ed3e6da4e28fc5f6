package executor

import (
	"github.com/ZanzyTHEbar/toolweave"
)

// lookupField reads ref from the recorded results of wf.
func lookupField(wf *toolweave.WorkflowContext, ref toolweave.Reference) (toolweave.Value, bool) {
	res, ok := wf.Result(ref.TaskID)
	if !ok {
		return toolweave.Null(), false
	}
	return res.Field(ref.Field)
}

// resolveParams substitutes references and evaluates expressions. A
// reference resolves to the producing task's metadata field, then the first
// item's metadata field, then its fallback, then the placeholder text itself.
func (e *Executor) resolveParams(wf *toolweave.WorkflowContext, params toolweave.Params) (toolweave.Params, error) {
	if len(params) == 0 {
		return toolweave.Params{}, nil
	}
	out := make(toolweave.Params, len(params))
	for k, v := range params {
		resolved, err := e.resolveValue(wf, v)
		if err != nil {
			return nil, err
		}
		out[k] = resolved
	}
	return out, nil
}

func (e *Executor) resolveValue(wf *toolweave.WorkflowContext, v toolweave.Value) (toolweave.Value, error) {
	switch v.Kind() {
	case toolweave.KindReference:
		ref, _ := v.AsReference()
		if field, ok := lookupField(wf, ref); ok {
			return field, nil
		}
		if ref.Fallback != "" {
			return toolweave.String(ref.Fallback), nil
		}
		e.logger.Warn().Str("reference", ref.Placeholder()).Msg("Unresolved reference, keeping placeholder")
		return toolweave.String(ref.Placeholder()), nil

	case toolweave.KindExpression:
		expr, _ := v.AsExpression()
		return evaluateExpression(expr, e.functions, func(ref toolweave.Reference) (toolweave.Value, bool) {
			return lookupField(wf, ref)
		})

	case toolweave.KindList:
		items, _ := v.AsList()
		out := make([]toolweave.Value, len(items))
		for i, item := range items {
			r, err := e.resolveValue(wf, item)
			if err != nil {
				return toolweave.Null(), err
			}
			out[i] = r
		}
		return toolweave.List(out...), nil

	case toolweave.KindMap:
		m, _ := v.AsMap()
		out := make(map[string]toolweave.Value, len(m))
		for k, item := range m {
			r, err := e.resolveValue(wf, item)
			if err != nil {
				return toolweave.Null(), err
			}
			out[k] = r
		}
		return toolweave.Map(out), nil
	}
	return v, nil
}
