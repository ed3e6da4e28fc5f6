// Package tools provides the standard code-analysis tool set over an
// in-memory class index.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/adapters"
)

// Toolset implements the code-analysis tools against an Index.
type Toolset struct {
	index   *Index
	latency time.Duration
}

// Option configures a Toolset.
type Option func(*Toolset)

// WithLatency delays every call, simulating a remote tool.
func WithLatency(d time.Duration) Option {
	return func(t *Toolset) { t.latency = d }
}

// New creates a Toolset over index.
func New(index *Index, opts ...Option) *Toolset {
	t := &Toolset{index: index}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Registry registers every tool in a StaticRegistry, which also serves as
// the invoker.
func (t *Toolset) Registry() (*adapters.StaticRegistry, error) {
	search := []adapters.ToolOption{adapters.WithCategory(toolweave.CategorySearch), adapters.WithCost("fast")}
	analysis := []adapters.ToolOption{
		adapters.WithCategory(toolweave.CategoryAnalysis),
		adapters.WithComplexity(toolweave.ComplexityModerate),
		adapters.WithCost("medium"),
	}
	generation := []adapters.ToolOption{
		adapters.WithCategory(toolweave.CategoryGeneration),
		adapters.WithComplexity(toolweave.ComplexityComplex),
		adapters.WithCost("~1.5s"),
	}
	with := func(base []adapters.ToolOption, extra ...adapters.ToolOption) []adapters.ToolOption {
		return append(append([]adapters.ToolOption(nil), base...), extra...)
	}

	return adapters.NewStaticRegistry(
		adapters.NewGoToolAdapter(toolweave.ToolSearchCode, t.wrap(t.SearchCode), with(search,
			adapters.WithDescription("Searches types by name or summary."),
			adapters.WithParameters([]string{"query"}, []string{"scope", "namespace", "typeFilter", "baseClass"}))...),
		adapters.NewGoToolAdapter(toolweave.ToolFindMonoBehaviours, t.wrap(t.FindMonoBehaviours), with(search,
			adapters.WithDescription("Lists MonoBehaviour components."),
			adapters.WithParameters(nil, []string{"namespace", "scope"}))...),
		adapters.NewGoToolAdapter(toolweave.ToolFindScriptableObjects, t.wrap(t.FindScriptableObjects), with(search,
			adapters.WithDescription("Lists ScriptableObject assets."),
			adapters.WithParameters(nil, []string{"namespace", "scope"}))...),
		adapters.NewGoToolAdapter(toolweave.ToolFindEnums, t.wrap(t.FindEnums), with(search,
			adapters.WithDescription("Lists enums."),
			adapters.WithParameters(nil, []string{"namespace", "scope"}))...),
		adapters.NewGoToolAdapter(toolweave.ToolGetClassDetails, t.wrap(t.GetClassDetails), with(analysis,
			adapters.WithComplexity(toolweave.ComplexitySimple),
			adapters.WithCost("fast"),
			adapters.WithDescription("Shows a type's members."),
			adapters.WithParameters([]string{"className"}, nil))...),
		adapters.NewGoToolAdapter(toolweave.ToolGetEnumValues, t.wrap(t.GetEnumValues), with(analysis,
			adapters.WithComplexity(toolweave.ComplexitySimple),
			adapters.WithCost("fast"),
			adapters.WithDescription("Lists an enum's values."),
			adapters.WithParameters([]string{"enumName"}, nil))...),
		adapters.NewGoToolAdapter(toolweave.ToolAnalyzeInheritance, t.wrap(t.AnalyzeInheritance), with(analysis,
			adapters.WithDescription("Shows base classes and derived types."),
			adapters.WithParameters([]string{"className"}, nil))...),
		adapters.NewGoToolAdapter(toolweave.ToolAnalyzeDependencies, t.wrap(t.AnalyzeDependencies), with(analysis,
			adapters.WithDescription("Shows what a type uses and what uses it."),
			adapters.WithParameters([]string{"className"}, nil))...),
		adapters.NewGoToolAdapter(toolweave.ToolDetectDesignPatterns, t.wrap(t.DetectDesignPatterns), with(analysis,
			adapters.WithComplexity(toolweave.ComplexityComplex),
			adapters.WithDescription("Detects common design patterns."),
			adapters.WithParameters(nil, []string{"className", "namespace"}))...),
		adapters.NewGoToolAdapter(toolweave.ToolCompareClasses, t.wrap(t.CompareClasses), with(analysis,
			adapters.WithDescription("Compares members of several types."),
			adapters.WithParameters([]string{"classNames"}, nil),
			adapters.WithValidator(validateClassNames))...),
		adapters.NewGoToolAdapter(toolweave.ToolGenerateCode, t.wrap(t.GenerateCode), with(generation,
			adapters.WithDescription("Generates a class skeleton from a description."),
			adapters.WithParameters([]string{"description"}, []string{"className", "baseClass"}))...),
		adapters.NewGoToolAdapter(toolweave.ToolApplyCodeTemplate, t.wrap(t.ApplyCodeTemplate), with(generation,
			adapters.WithDescription("Renders a named code template."),
			adapters.WithParameters([]string{"templateName"}, []string{"className", "namespace"}))...),
	)
}

func validateClassNames(params toolweave.Params) error {
	items, ok := params["classNames"].AsList()
	if !ok {
		if s, isStr := params["classNames"].AsString(); isStr && strings.Contains(s, ",") {
			return nil
		}
		return fmt.Errorf("classNames must be a list")
	}
	if len(items) < 2 {
		return fmt.Errorf("classNames needs at least two entries")
	}
	return nil
}

func (t *Toolset) wrap(fn adapters.ToolFunc) adapters.ToolFunc {
	if t.latency <= 0 {
		return fn
	}
	return func(ctx context.Context, params toolweave.Params) (*toolweave.ToolResponse, error) {
		timer := time.NewTimer(t.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		return fn(ctx, params)
	}
}

func str(p toolweave.Params, name string) string {
	return strings.TrimSpace(p.Get(name).Text())
}

func notFound(kind, name string) *toolweave.ToolResponse {
	return &toolweave.ToolResponse{Success: false, Error: fmt.Sprintf("%s '%s' not found", kind, name)}
}

func classItem(c *Class, content string) toolweave.Item {
	return toolweave.Item{
		Content: content,
		Metadata: toolweave.Params{
			"name":      toolweave.String(c.Name),
			"className": toolweave.String(c.Name),
			"namespace": toolweave.String(c.Namespace),
			"kind":      toolweave.String(c.Kind),
			"filePath":  toolweave.String(c.File),
		},
	}
}

func listResponse(classes []*Class) *toolweave.ToolResponse {
	resp := &toolweave.ToolResponse{
		Success:  true,
		Data:     make([]toolweave.Item, 0, len(classes)),
		Metadata: toolweave.Params{"count": toolweave.Int(len(classes))},
	}
	names := make([]toolweave.Value, 0, len(classes))
	for _, c := range classes {
		resp.Data = append(resp.Data, classItem(c, c.Declaration()))
		names = append(names, toolweave.String(c.Name))
	}
	if len(classes) > 0 {
		resp.Metadata["className"] = toolweave.String(classes[0].Name)
		resp.Metadata["name"] = toolweave.String(classes[0].Name)
		resp.Metadata["filePath"] = toolweave.String(classes[0].File)
	}
	resp.Metadata["names"] = toolweave.List(names...)
	return resp
}

func stringList(list []string) toolweave.Value {
	out := make([]toolweave.Value, len(list))
	for i, s := range list {
		out[i] = toolweave.String(s)
	}
	return toolweave.List(out...)
}

// singleResponse describes one class. The class's identity is copied into the
// result metadata so later tasks can reference it.
func singleResponse(c *Class, content string, extra toolweave.Params) *toolweave.ToolResponse {
	item := classItem(c, content)
	meta := toolweave.Params{
		"className": toolweave.String(c.Name),
		"name":      toolweave.String(c.Name),
		"filePath":  toolweave.String(c.File),
		"namespace": toolweave.String(c.Namespace),
	}
	for k, v := range extra {
		meta[k] = v
	}
	return &toolweave.ToolResponse{Success: true, Data: []toolweave.Item{item}, Metadata: meta}
}

// SearchCode finds types by name or summary.
func (t *Toolset) SearchCode(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	f := Filter{
		Query:     str(p, "query"),
		Namespace: str(p, "namespace"),
		Base:      str(p, "baseClass"),
	}
	switch typ := strings.ToLower(str(p, "typeFilter")); typ {
	case "enum", "interface", "struct":
		f.Kind = typ
	case "class":
		f.Kind = KindClass
	case "component":
		f.Base = "MonoBehaviour"
	case "scriptableobject":
		f.Base = "ScriptableObject"
	}
	matches := t.index.Find(f)
	if str(p, "scope") != "all" && len(matches) > 20 {
		matches = matches[:20]
	}
	return listResponse(matches), nil
}

func (t *Toolset) findDerived(p toolweave.Params, base string) *toolweave.ToolResponse {
	return listResponse(t.index.Find(Filter{Namespace: str(p, "namespace"), Base: base}))
}

// FindMonoBehaviours lists MonoBehaviour subclasses.
func (t *Toolset) FindMonoBehaviours(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	return t.findDerived(p, "MonoBehaviour"), nil
}

// FindScriptableObjects lists ScriptableObject subclasses.
func (t *Toolset) FindScriptableObjects(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	return t.findDerived(p, "ScriptableObject"), nil
}

// FindEnums lists enums.
func (t *Toolset) FindEnums(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	return listResponse(t.index.Find(Filter{Namespace: str(p, "namespace"), Kind: KindEnum})), nil
}

// GetClassDetails renders a type's declaration and members.
func (t *Toolset) GetClassDetails(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	name := str(p, "className")
	c, ok := t.index.Lookup(name)
	if !ok {
		return notFound("class", name), nil
	}
	var sb strings.Builder
	sb.WriteString(c.Declaration())
	if c.Summary != "" {
		fmt.Fprintf(&sb, "\n// %s", c.Summary)
	}
	if len(c.Fields) > 0 {
		fmt.Fprintf(&sb, "\nFields: %s", strings.Join(c.Fields, ", "))
	}
	if len(c.Methods) > 0 {
		fmt.Fprintf(&sb, "\nMethods: %s", strings.Join(c.Methods, ", "))
	}
	if len(c.Values) > 0 {
		fmt.Fprintf(&sb, "\nValues: %s", strings.Join(c.Values, ", "))
	}
	return singleResponse(c, sb.String(), toolweave.Params{
		"baseClass": toolweave.String(c.Base),
		"methods":   stringList(c.Methods),
		"fields":    stringList(c.Fields),
	}), nil
}

// GetEnumValues lists an enum's values.
func (t *Toolset) GetEnumValues(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	name := str(p, "enumName")
	c, ok := t.index.Lookup(name)
	if !ok || c.Kind != KindEnum {
		return notFound("enum", name), nil
	}
	content := fmt.Sprintf("%s { %s }", c.Declaration(), strings.Join(c.Values, ", "))
	return singleResponse(c, content, toolweave.Params{
		"values": stringList(c.Values),
		"count":  toolweave.Int(len(c.Values)),
	}), nil
}

// AnalyzeInheritance shows the base chain and direct subclasses.
func (t *Toolset) AnalyzeInheritance(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	name := str(p, "className")
	c, ok := t.index.Lookup(name)
	if !ok {
		return notFound("class", name), nil
	}
	ancestors := t.index.Ancestors(c)
	derived := t.index.Derived(c.Name)

	chain := append([]string{c.Name}, ancestors...)
	var sb strings.Builder
	fmt.Fprintf(&sb, "Hierarchy: %s", strings.Join(chain, " -> "))
	if len(c.Interfaces) > 0 {
		fmt.Fprintf(&sb, "\nImplements: %s", strings.Join(c.Interfaces, ", "))
	}
	if len(derived) > 0 {
		fmt.Fprintf(&sb, "\nDerived: %s", strings.Join(derived, ", "))
	}
	return singleResponse(c, sb.String(), toolweave.Params{
		"ancestors": stringList(ancestors),
		"derived":   stringList(derived),
		"depth":     toolweave.Int(len(ancestors)),
	}), nil
}

// AnalyzeDependencies shows what a type uses and what uses it.
func (t *Toolset) AnalyzeDependencies(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	name := str(p, "className")
	c, ok := t.index.Lookup(name)
	if !ok {
		return notFound("class", name), nil
	}
	dependents := t.index.Dependents(c.Name)

	resp := singleResponse(c, fmt.Sprintf("%s depends on %d type(s) and is used by %d.",
		c.Name, len(c.Dependencies), len(dependents)), toolweave.Params{
		"dependencies": stringList(c.Dependencies),
		"dependents":   stringList(dependents),
	})
	for _, d := range c.Dependencies {
		item := toolweave.Item{
			Content:  fmt.Sprintf("uses %s", d),
			Metadata: toolweave.Params{"dependency": toolweave.String(d)},
		}
		if dep, ok := t.index.Lookup(d); ok {
			item.Content = fmt.Sprintf("uses %s", dep.Declaration())
			item.Metadata["filePath"] = toolweave.String(dep.File)
		}
		resp.Data = append(resp.Data, item)
	}
	return resp, nil
}

// pattern is a design pattern heuristic.
type pattern struct {
	name  string
	match func(x *Index, c *Class) bool
}

var patterns = []pattern{
	{"Singleton", func(x *Index, c *Class) bool { return containsFold(c.Fields, "Instance") }},
	{"Observer", func(x *Index, c *Class) bool {
		return containsFold(c.Methods, "Subscribe") || hasPrefixFold(c.Methods, "On") && containsFold(c.Methods, "Raise")
	}},
	{"Factory", func(x *Index, c *Class) bool {
		return strings.HasSuffix(c.Name, "Factory") || containsFold(c.Methods, "Create")
	}},
	{"State", func(x *Index, c *Class) bool {
		return containsFold(c.Methods, "ChangeState") || containsFold(c.Fields, "state")
	}},
	{"Data Container", func(x *Index, c *Class) bool { return x.DerivesFrom(c, "ScriptableObject") }},
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func hasPrefixFold(list []string, prefix string) bool {
	for _, v := range list {
		if len(v) > len(prefix) && strings.EqualFold(v[:len(prefix)], prefix) {
			return true
		}
	}
	return false
}

// DetectDesignPatterns reports pattern matches for one type or a namespace.
func (t *Toolset) DetectDesignPatterns(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	var classes []*Class
	if name := str(p, "className"); name != "" {
		c, ok := t.index.Lookup(name)
		if !ok {
			return notFound("class", name), nil
		}
		classes = []*Class{c}
	} else {
		classes = t.index.Find(Filter{Namespace: str(p, "namespace")})
	}

	resp := &toolweave.ToolResponse{Success: true, Metadata: toolweave.Params{}}
	found := make(map[string]bool)
	for _, c := range classes {
		for _, pat := range patterns {
			if pat.match(t.index, c) {
				found[pat.name] = true
				item := classItem(c, fmt.Sprintf("%s implements %s", c.Name, pat.name))
				item.Metadata["pattern"] = toolweave.String(pat.name)
				resp.Data = append(resp.Data, item)
			}
		}
	}
	names := make([]string, 0, len(found))
	for n := range found {
		names = append(names, n)
	}
	sort.Strings(names)
	resp.Metadata["patterns"] = stringList(names)
	resp.Metadata["count"] = toolweave.Int(len(resp.Data))
	if len(classes) == 1 {
		resp.Metadata["className"] = toolweave.String(classes[0].Name)
		resp.Metadata["name"] = toolweave.String(classes[0].Name)
	}
	return resp, nil
}

func classNames(p toolweave.Params) []string {
	if items, ok := p["classNames"].AsList(); ok {
		out := make([]string, 0, len(items))
		for _, v := range items {
			if s := strings.TrimSpace(v.Text()); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	var out []string
	for _, s := range strings.Split(str(p, "classNames"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// CompareClasses reports members shared by all named types and members
// unique to each.
func (t *Toolset) CompareClasses(ctx context.Context, p toolweave.Params) (*toolweave.ToolResponse, error) {
	names := classNames(p)
	classes := make([]*Class, 0, len(names))
	for _, n := range names {
		c, ok := t.index.Lookup(n)
		if !ok {
			return notFound("class", n), nil
		}
		classes = append(classes, c)
	}

	counts := make(map[string]int)
	for _, c := range classes {
		for _, m := range uniqueMembers(c) {
			counts[m]++
		}
	}
	var shared []string
	for m, n := range counts {
		if n == len(classes) {
			shared = append(shared, m)
		}
	}
	sort.Strings(shared)

	resp := &toolweave.ToolResponse{
		Success:  true,
		Metadata: toolweave.Params{"shared": stringList(shared), "count": toolweave.Int(len(classes))},
	}
	for _, c := range classes {
		var unique []string
		for _, m := range uniqueMembers(c) {
			if counts[m] == 1 {
				unique = append(unique, m)
			}
		}
		item := classItem(c, fmt.Sprintf("%s; unique members: %s", c.Declaration(), strings.Join(unique, ", ")))
		item.Metadata["unique"] = stringList(unique)
		resp.Data = append(resp.Data, item)
	}
	if len(classes) > 0 {
		resp.Metadata["className"] = toolweave.String(classes[0].Name)
	}
	return resp, nil
}

func uniqueMembers(c *Class) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range append(append([]string(nil), c.Methods...), c.Fields...) {
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}
