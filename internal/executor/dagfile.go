package executor

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/planner"
	"gopkg.in/yaml.v3"
)

// PlanFile is a hand-written decomposition.
type PlanFile struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Request     string     `yaml:"request"`
	Strategy    string     `yaml:"strategy"`
	Tasks       []PlanTask `yaml:"tasks"`
}

// PlanTask is one subtask of a PlanFile. String parameters of the form
// ${task.field} are references; strings starting with "=" are expressions
// over $task.field variables.
type PlanTask struct {
	ID          string         `yaml:"id"`
	Tool        string         `yaml:"tool"`
	Description string         `yaml:"description"`
	Priority    int            `yaml:"priority"`
	Params      map[string]any `yaml:"params"`
	DependsOn   []string       `yaml:"depends_on"`
}

// PlanLoader loads a PlanFile from a source (e.g., file path).
type PlanLoader interface {
	Load(source string) (*PlanFile, error)
	Format() string // e.g., "yaml"
}

// loaderRegistry holds registered PlanLoaders by format name.
var loaderRegistry = make(map[string]PlanLoader)

// RegisterPlanLoader registers a new PlanLoader for its format.
func RegisterPlanLoader(loader PlanLoader) {
	loaderRegistry[loader.Format()] = loader
}

// GetPlanLoader retrieves a loader by format name (e.g., "yaml").
func GetPlanLoader(format string) (PlanLoader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PlanLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	return ParsePlan(data)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterPlanLoader(YAMLLoader{})
}

// ParsePlan decodes a YAML plan. Unknown fields are rejected.
func ParsePlan(data []byte) (*PlanFile, error) {
	var plan PlanFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	return &plan, nil
}

// toValue converts a YAML parameter into a Value.
func toValue(raw any) toolweave.Value {
	if s, ok := raw.(string); ok {
		if expr, found := strings.CutPrefix(s, "="); found {
			return toolweave.Expr(strings.TrimSpace(expr))
		}
	}
	switch x := raw.(type) {
	case []any:
		items := make([]toolweave.Value, len(x))
		for i, item := range x {
			items[i] = toValue(item)
		}
		return toolweave.List(items...)
	case map[string]any:
		if len(x) == 1 {
			if _, ok := x["$ref"]; ok {
				return toolweave.ParseValue(x)
			}
			if _, ok := x["$expr"]; ok {
				return toolweave.ParseValue(x)
			}
		}
		m := make(map[string]toolweave.Value, len(x))
		for k, item := range x {
			m[k] = toValue(item)
		}
		return toolweave.Map(m)
	}
	return toolweave.ParseValue(raw)
}

// ToDecomposition converts the plan into a decomposition. References add
// implied dependencies; the strategy defaults to the planner's rule.
func (p *PlanFile) ToDecomposition() *toolweave.TaskDecomposition {
	tasks := make([]toolweave.SubTask, 0, len(p.Tasks))
	for i, pt := range p.Tasks {
		params := make(toolweave.Params, len(pt.Params))
		for k, v := range pt.Params {
			params[k] = toValue(v)
		}
		priority := pt.Priority
		if priority == 0 {
			priority = i
		}
		tasks = append(tasks, toolweave.SubTask{
			ID:           pt.ID,
			ToolName:     pt.Tool,
			Parameters:   params,
			Dependencies: append([]string(nil), pt.DependsOn...),
			Priority:     priority,
			Description:  pt.Description,
		})
	}
	planner.AddImpliedDependencies(tasks)

	strategy := toolweave.ExecutionStrategy(strings.ToLower(p.Strategy))
	if strategy == "" {
		strategy = planner.ChooseStrategy(tasks)
	}

	request := p.Request
	if request == "" {
		request = p.Description
	}
	estimate := planner.EstimateDuration(tasks, strategy, func(string) int64 {
		return toolweave.DefaultCost.Milliseconds()
	})
	return &toolweave.TaskDecomposition{
		OriginalRequest:     request,
		Subtasks:            tasks,
		ExecutionStrategy:   strategy,
		EstimatedDurationMs: estimate,
		Confidence:          1,
		Explanation:         fmt.Sprintf("plan %q with %d subtasks", p.Name, len(tasks)),
	}
}

// Validate checks the plan's graph, strategy and expressions.
func (p *PlanFile) Validate(functions map[string]govaluate.ExpressionFunction) error {
	d := p.ToDecomposition()
	switch d.ExecutionStrategy {
	case toolweave.StrategySequential, toolweave.StrategyParallel, toolweave.StrategyHybrid:
	default:
		return toolweave.NewConfigurationError(fmt.Sprintf("unknown strategy '%s'", p.Strategy), nil)
	}
	if err := planner.Validate(d); err != nil {
		return err
	}
	for _, t := range d.Subtasks {
		for name, v := range t.Parameters {
			if err := validateParam(v, functions); err != nil {
				return toolweave.NewDecompositionError(
					fmt.Sprintf("task '%s' parameter '%s' is invalid", t.ID, name), err)
			}
		}
	}
	return nil
}

func validateParam(v toolweave.Value, functions map[string]govaluate.ExpressionFunction) error {
	switch v.Kind() {
	case toolweave.KindExpression:
		expr, _ := v.AsExpression()
		return ValidateExpression(expr, functions)
	case toolweave.KindList:
		items, _ := v.AsList()
		for _, item := range items {
			if err := validateParam(item, functions); err != nil {
				return err
			}
		}
	case toolweave.KindMap:
		m, _ := v.AsMap()
		// A marker that survived parsing has a shape nothing resolves.
		for _, marker := range []string{"$ref", "$expr"} {
			if _, ok := m[marker]; ok && len(m) == 1 {
				return fmt.Errorf("unsupported %s form %s", marker, m[marker])
			}
		}
		for _, item := range m {
			if err := validateParam(item, functions); err != nil {
				return err
			}
		}
	}
	return nil
}

// LoadPlanFile loads a plan using the YAML loader, validates it and returns
// the decomposition ready for Execute.
func LoadPlanFile(path string, functions map[string]govaluate.ExpressionFunction) (*toolweave.TaskDecomposition, error) {
	loader, ok := GetPlanLoader("yaml")
	if !ok {
		return nil, fmt.Errorf("no YAML plan loader registered")
	}

	plan, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := plan.Validate(functions); err != nil {
		return nil, err
	}
	return plan.ToDecomposition(), nil
}
