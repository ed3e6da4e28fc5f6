package toolweave

import "context"

// ToolResponse is what the external tool boundary returns.
type ToolResponse struct {
	Success  bool   `json:"success"`
	Data     []Item `json:"data"`
	Metadata Params `json:"metadata,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Invoker executes a tool by name. Returned errors are classified with
// IsTerminal: terminal errors are never retried.
type Invoker interface {
	Invoke(ctx context.Context, toolName string, params Params) (*ToolResponse, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, toolName string, params Params) (*ToolResponse, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, toolName string, params Params) (*ToolResponse, error) {
	return f(ctx, toolName, params)
}

// Registry is the read-only tool catalogue.
type Registry interface {
	ListToolNames() []string
	GetMetadata(toolName string) (ToolMetadata, bool)
	IsValidTool(toolName string) bool
}

// IntentExtractor turns a raw request into an Intent. The default
// implementation is pattern based; a model-backed extractor can replace it.
type IntentExtractor interface {
	ExtractIntent(ctx context.Context, request string) (*Intent, error)
}
