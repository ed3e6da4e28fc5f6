package adapters

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/toolweave"
)

// StaticRegistry holds function-backed tools. It serves as both the tool
// registry and the invocation boundary.
type StaticRegistry struct {
	mu    sync.RWMutex
	tools map[string]*GoToolAdapter
}

// NewStaticRegistry creates a registry holding tools.
func NewStaticRegistry(tools ...*GoToolAdapter) (*StaticRegistry, error) {
	r := &StaticRegistry{tools: make(map[string]*GoToolAdapter, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a tool. Names must be unique.
func (r *StaticRegistry) Register(tool *GoToolAdapter) error {
	if tool == nil || tool.Name() == "" {
		return toolweave.NewConfigurationError("tool must have a name", nil)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name()]; exists {
		return toolweave.NewConfigurationError(fmt.Sprintf("tool '%s' already registered", tool.Name()), nil)
	}
	r.tools[tool.Name()] = tool
	return nil
}

func (r *StaticRegistry) ListToolNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *StaticRegistry) GetMetadata(toolName string) (toolweave.ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[toolName]
	if !ok {
		return toolweave.ToolMetadata{}, false
	}
	return t.Metadata(), true
}

func (r *StaticRegistry) IsValidTool(toolName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[toolName]
	return ok
}

// Invoke runs the named tool.
func (r *StaticRegistry) Invoke(ctx context.Context, toolName string, params toolweave.Params) (*toolweave.ToolResponse, error) {
	r.mu.RLock()
	t, ok := r.tools[toolName]
	r.mu.RUnlock()
	if !ok {
		return nil, toolweave.NewToolNotFoundError("execution", toolName)
	}
	return t.Execute(ctx, params)
}
