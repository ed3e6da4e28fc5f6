package adapters

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/toolweave"
)

// ToolFunc is the body of a function-backed tool.
type ToolFunc func(ctx context.Context, params toolweave.Params) (*toolweave.ToolResponse, error)

// GoToolAdapter adapts a Go function to a registrable tool.
type GoToolAdapter struct {
	toolFunc  ToolFunc
	name      string
	metadata  toolweave.ToolMetadata
	validator func(toolweave.Params) error
}

// ToolOption represents an option for configuring a GoToolAdapter.
type ToolOption func(*GoToolAdapter)

// WithValidator sets a custom validator run after the required-parameter check.
func WithValidator(validator func(toolweave.Params) error) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.validator = validator
	}
}

// WithCategory sets the tool's category.
func WithCategory(category string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.metadata.Category = category
	}
}

// WithDescription sets a description for the tool.
func WithDescription(description string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.metadata.Description = description
	}
}

// WithComplexity sets the tool's complexity rank.
func WithComplexity(c toolweave.Complexity) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.metadata.Complexity = c
	}
}

// WithParameters declares required and optional parameter names.
func WithParameters(required, optional []string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.metadata.RequiredParams = append([]string(nil), required...)
		adapter.metadata.OptionalParams = append([]string(nil), optional...)
	}
}

// WithCost sets the nominal cost estimate, e.g. "fast" or "~1.5s".
func WithCost(nominal string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.metadata.NominalCost = nominal
	}
}

// WithMetadata replaces the whole metadata record.
func WithMetadata(meta toolweave.ToolMetadata) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.metadata = meta
	}
}

// NewGoToolAdapter creates a new adapter for a Go function.
func NewGoToolAdapter(name string, toolFunc ToolFunc, options ...ToolOption) *GoToolAdapter {
	adapter := &GoToolAdapter{
		toolFunc: toolFunc,
		name:     name,
		metadata: toolweave.ToolMetadata{
			Category:   toolweave.CategoryAnalysis,
			Complexity: toolweave.ComplexitySimple,
		},
	}
	for _, option := range options {
		option(adapter)
	}
	return adapter
}

// Execute validates params and runs the tool. Validation failures are
// invalid-parameter errors and therefore never retried.
func (a *GoToolAdapter) Execute(ctx context.Context, params toolweave.Params) (*toolweave.ToolResponse, error) {
	if a.toolFunc == nil {
		return nil, toolweave.NewInternalError("execution", fmt.Sprintf("tool '%s' has no function", a.name), nil)
	}
	if err := a.Validate(params); err != nil {
		return nil, toolweave.NewInvalidParamsError("execution", a.name, err)
	}
	return a.toolFunc(ctx, params)
}

// Validate checks required parameters and runs the custom validator.
func (a *GoToolAdapter) Validate(params toolweave.Params) error {
	for _, p := range a.metadata.RequiredParams {
		if v, ok := params[p]; !ok || v.IsNull() {
			return fmt.Errorf("missing required parameter '%s'", p)
		}
	}
	if a.validator != nil {
		return a.validator(params)
	}
	return nil
}

// Name returns the tool name.
func (a *GoToolAdapter) Name() string {
	return a.name
}

// Metadata returns the registry record for the tool.
func (a *GoToolAdapter) Metadata() toolweave.ToolMetadata {
	return a.metadata
}
