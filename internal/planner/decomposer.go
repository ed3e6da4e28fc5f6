// Package planner turns natural-language requests into validated subtask
// graphs: intent extraction, clause splitting, tool mapping and dependency
// wiring.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/rs/zerolog"
)

// DefaultMaxDepth caps subtasks when no limit is configured.
const DefaultMaxDepth = 10

var (
	linkingPattern      = regexp.MustCompile(`(?i)\b(?:and|then|also)\b`)
	clauseSplitPattern  = regexp.MustCompile(`(?i)\s*(?:[,;]|\band\s+then\b|\bthen\b|\balso\b|\band\b)\s*`)
	pronounPattern      = regexp.MustCompile(`(?i)\b(?:it|its|them|their|these|those|result|results|same)\b`)
	templateNamePattern = regexp.MustCompile(`(?i)\b([a-z][\w-]*)\s+template\b`)
	analysisPattern     = regexp.MustCompile(`(?i)hierarch|inheritance|dependenc|pattern`)
)

// multiStepPattern names a request shape that always needs more than one tool.
type multiStepPattern struct {
	name  string
	match func(lower string) bool
}

var multiStepPatterns = []multiStepPattern{
	{"inheritance hierarchy", func(s string) bool {
		return strings.Contains(s, "hierarch") || strings.Contains(s, "inheritance")
	}},
	{"dependency analysis", func(s string) bool { return strings.Contains(s, "dependenc") }},
	{"template generation", func(s string) bool {
		return strings.Contains(s, "generat") && strings.Contains(s, "template")
	}},
	{"component patterns", func(s string) bool {
		return (strings.Contains(s, "monobehaviour") || strings.Contains(s, "monobehavior") || strings.Contains(s, "component")) &&
			strings.Contains(s, "pattern")
	}},
}

// Complexity reports whether request needs several subtasks and why.
func Complexity(request string) (bool, string) {
	if linkingPattern.MatchString(request) {
		return true, "linking words"
	}
	lower := strings.ToLower(request)
	for _, p := range multiStepPatterns {
		if p.match(lower) {
			return true, p.name
		}
	}
	return false, ""
}

// Decomposer builds TaskDecompositions from requests.
type Decomposer struct {
	extractor toolweave.IntentExtractor
	registry  toolweave.Registry
	maxDepth  int
	threshold float64
	logger    zerolog.Logger
}

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithExtractor replaces the pattern-based intent extractor.
func WithExtractor(e toolweave.IntentExtractor) Option {
	return func(d *Decomposer) {
		if e != nil {
			d.extractor = e
		}
	}
}

// WithRegistry supplies tool metadata for cost estimates and confidence.
func WithRegistry(r toolweave.Registry) Option {
	return func(d *Decomposer) { d.registry = r }
}

// WithMaxDepth caps the number of subtasks per decomposition.
func WithMaxDepth(n int) Option {
	return func(d *Decomposer) {
		if n > 0 {
			d.maxDepth = n
		}
	}
}

// WithConfidenceThreshold flags decompositions whose confidence falls below t.
func WithConfidenceThreshold(t float64) Option {
	return func(d *Decomposer) { d.threshold = t }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decomposer) { d.logger = l }
}

// NewDecomposer returns a decomposer using the pattern extractor by default.
func NewDecomposer(opts ...Option) *Decomposer {
	d := &Decomposer{
		extractor: NewPatternExtractor(),
		maxDepth:  DefaultMaxDepth,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With().Str("component", "planner").Logger()
	return d
}

// ExtractIntent delegates to the configured extractor.
func (d *Decomposer) ExtractIntent(ctx context.Context, request string) (*toolweave.Intent, error) {
	if strings.TrimSpace(request) == "" {
		return nil, toolweave.NewDecompositionError("request is empty", nil)
	}
	intent, err := d.extractor.ExtractIntent(ctx, request)
	if err != nil {
		if toolweave.CodeOf(err) != "" {
			return nil, err
		}
		return nil, toolweave.NewDecompositionError("intent extraction failed", err)
	}
	if intent == nil {
		return nil, toolweave.NewDecompositionError("intent extraction returned nothing", nil)
	}
	return intent, nil
}

// Decompose extracts the intent of request and derives a validated subtask
// graph with its execution strategy and duration estimate.
func (d *Decomposer) Decompose(ctx context.Context, request string) (*toolweave.TaskDecomposition, error) {
	intent, err := d.ExtractIntent(ctx, request)
	if err != nil {
		return nil, err
	}

	multi, reason := Complexity(request)
	b := &builder{intent: intent, discover: multi, single: !multi}
	if multi {
		for _, c := range splitClauses(request, intent) {
			b.addClause(c)
		}
		b.ensureFollowUp()
	} else {
		b.addClause(newClause(request, intent))
	}

	if len(b.tasks) > d.maxDepth {
		return nil, toolweave.NewDecompositionError(
			fmt.Sprintf("request needs %d subtasks, limit is %d", len(b.tasks), d.maxDepth), nil)
	}

	decomposition := &toolweave.TaskDecomposition{
		OriginalRequest: request,
		Intent:          intent,
		Subtasks:        b.tasks,
	}
	if err := Validate(decomposition); err != nil {
		return nil, err
	}

	decomposition.ExecutionStrategy = ChooseStrategy(b.tasks)
	decomposition.EstimatedDurationMs = EstimateDuration(b.tasks, decomposition.ExecutionStrategy, d.costMs)
	decomposition.Confidence = d.confidence(intent, b.tasks)
	decomposition.Explanation = explain(decomposition, reason)
	if decomposition.Confidence < d.threshold {
		decomposition.Explanation += fmt.Sprintf("; low confidence %.2f (threshold %.2f)", decomposition.Confidence, d.threshold)
		d.logger.Warn().Float64("confidence", decomposition.Confidence).Float64("threshold", d.threshold).
			Str("target", intent.Target).Msg("Low-confidence decomposition")
	}

	d.logger.Debug().Str("action", string(intent.Action)).Str("target", intent.Target).
		Int("subtasks", len(b.tasks)).Str("strategy", string(decomposition.ExecutionStrategy)).
		Msg("Request decomposed")
	return decomposition, nil
}

func (d *Decomposer) costMs(tool string) int64 {
	if d.registry != nil {
		if meta, ok := d.registry.GetMetadata(tool); ok {
			return meta.EstimatedCost().Milliseconds()
		}
	}
	return toolweave.DefaultCost.Milliseconds()
}

// confidence starts from the intent's and loses 0.1 per subtask whose tool
// the registry does not know.
func (d *Decomposer) confidence(intent *toolweave.Intent, tasks []toolweave.SubTask) float64 {
	c := intent.Confidence
	if d.registry != nil {
		for _, t := range tasks {
			if !d.registry.IsValidTool(t.ToolName) {
				d.logger.Warn().Str("tool", t.ToolName).Str("task_id", t.ID).Msg("Decomposition uses an unregistered tool")
				c -= 0.1
			}
		}
	}
	if c < 0 {
		c = 0
	}
	return c
}

func explain(d *toolweave.TaskDecomposition, reason string) string {
	chain := strings.Join(d.ToolNames(), " -> ")
	if reason == "" {
		return fmt.Sprintf("single %s step: %s", d.Intent.Action, chain)
	}
	return fmt.Sprintf("%d subtasks (%s), %s: %s", len(d.Subtasks), reason, d.ExecutionStrategy, chain)
}

// clause is one actionable fragment of a request.
type clause struct {
	text    string
	action  toolweave.Action
	targets []string
	typ     string
	pronoun bool
}

func newClause(text string, intent *toolweave.Intent) clause {
	action, ok := detectAction(text)
	if !ok {
		action = intent.Action
	}
	// "show the dependencies of X" asks for analysis, not a search.
	if action.Family() == toolweave.ActionSearch && analysisPattern.MatchString(text) {
		action = toolweave.ActionAnalyze
	}
	return clause{
		text:    strings.TrimSpace(text),
		action:  action,
		targets: detectTargets(text),
		typ:     detectType(text),
		pronoun: pronounPattern.MatchString(text),
	}
}

func (c clause) target() string {
	if len(c.targets) == 0 {
		return ""
	}
	return c.targets[0]
}

// splitClauses splits on commas, semicolons and linking words. A fragment
// without an action word belongs to the clause before it.
func splitClauses(request string, intent *toolweave.Intent) []clause {
	var texts []string
	for _, part := range clauseSplitPattern.Split(request, -1) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := detectAction(part); !ok && len(texts) > 0 {
			texts[len(texts)-1] += " and " + part
			continue
		}
		texts = append(texts, part)
	}

	clauses := make([]clause, 0, len(texts))
	for _, t := range texts {
		clauses = append(clauses, newClause(t, intent))
	}
	return clauses
}

func isTargetWord(w string) bool {
	lower := strings.ToLower(w)
	if nonTargets[lower] {
		return false
	}
	if camelCasePattern.MatchString(w) {
		return true
	}
	return capitalPattern.MatchString(w) && !isActionWord(w) && !stopWords[lower] && !isTypeWord(lower)
}

// detectTargets lists every identifier-like word in order of appearance.
func detectTargets(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words(s) {
		if isTargetWord(w) && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// builder accumulates subtasks while walking clauses in order.
type builder struct {
	intent *toolweave.Intent
	tasks  []toolweave.SubTask
	// discover inserts a search ahead of an analysis with nothing to analyse.
	discover bool
	// single restricts a simple request to exactly one subtask.
	single bool

	searchGroup  []string
	searchTarget string
}

func (b *builder) add(tool string, params toolweave.Params, deps []string, desc string) string {
	id := fmt.Sprintf("t%d", len(b.tasks)+1)
	b.tasks = append(b.tasks, toolweave.SubTask{
		ID:           id,
		ToolName:     tool,
		Parameters:   params,
		Dependencies: deps,
		Priority:     len(b.tasks),
		Description:  desc,
	})
	return id
}

func (b *builder) prev() string {
	if len(b.tasks) == 0 {
		return ""
	}
	return b.tasks[len(b.tasks)-1].ID
}

func (b *builder) globalTarget() string {
	if b.intent.Target == toolweave.UnknownTarget {
		return ""
	}
	return b.intent.Target
}

// source is the task whose output names the class later steps work on.
func (b *builder) source() string {
	if len(b.searchGroup) > 0 {
		return b.searchGroup[0]
	}
	return b.prev()
}

func (b *builder) addClause(c clause) {
	switch c.action.Family() {
	case toolweave.ActionSearch:
		b.addSearch(c)
	case toolweave.ActionAnalyze:
		b.addAnalysis(c)
	case toolweave.ActionCompare:
		b.addComparison(c)
	case toolweave.ActionGenerate:
		b.addGeneration(c)
	default:
		b.addSearch(c)
	}
}

func (b *builder) filters(c clause) toolweave.Params {
	params := toolweave.Params{}
	for k, v := range b.intent.Filters {
		params[k] = v
	}
	for k, v := range detectFilters(c.text) {
		params[k] = v
	}
	return params
}

func keywordQuery(c clause) string {
	var terms []string
	for _, kw := range detectKeywords(c.text) {
		if isActionWord(kw) || isTypeWord(kw) {
			continue
		}
		terms = append(terms, kw)
	}
	if len(terms) == 0 {
		return c.text
	}
	return strings.Join(terms, " ")
}

func (b *builder) addSearch(c clause) {
	var deps []string
	if c.pronoun && b.prev() != "" {
		deps = []string{b.prev()}
	}

	var group []string
	switch {
	case len(c.targets) == 0 && c.typ == "component":
		group = append(group, b.add(toolweave.ToolFindMonoBehaviours, b.filters(c), deps, c.text))
	case len(c.targets) == 0 && c.typ == "scriptableobject":
		group = append(group, b.add(toolweave.ToolFindScriptableObjects, b.filters(c), deps, c.text))
	case len(c.targets) == 0 && c.typ == "enum":
		group = append(group, b.add(toolweave.ToolFindEnums, b.filters(c), deps, c.text))
	case len(c.targets) == 0:
		params := b.filters(c)
		params["query"] = toolweave.String(keywordQuery(c))
		group = append(group, b.add(toolweave.ToolSearchCode, params, deps, c.text))
	default:
		targets := c.targets
		if b.single {
			targets = targets[:1]
		}
		for _, target := range targets {
			params := b.filters(c)
			params["query"] = toolweave.String(target)
			if c.typ != UnknownType {
				params["typeFilter"] = toolweave.String(c.typ)
			}
			group = append(group, b.add(toolweave.ToolSearchCode, params, deps, "search for "+target))
		}
		b.searchTarget = targets[0]
	}
	b.searchGroup = group
}

// discovery inserts the search an analysis step needs when it opens a
// complex request.
func (b *builder) discovery(c clause) {
	if c.typ == "component" && len(c.targets) == 0 {
		b.searchGroup = []string{b.add(toolweave.ToolFindMonoBehaviours, b.filters(c), nil, "discover components")}
		return
	}
	query := c.target()
	if query == "" {
		query = b.globalTarget()
	}
	if query == "" {
		query = keywordQuery(c)
	}
	params := toolweave.Params{"query": toolweave.String(query)}
	b.searchGroup = []string{b.add(toolweave.ToolSearchCode, params, nil, "search for "+query)}
	b.searchTarget = c.target()
}

// subject decides what class a non-search clause works on and which tasks it
// must wait for.
func (b *builder) subject(c clause) ([]string, toolweave.Value) {
	if b.prev() == "" && b.discover {
		b.discovery(c)
	}

	own := c.target()
	dependent := b.prev() != "" && (c.pronoun || own == "" || own == b.searchTarget)
	if !dependent {
		if own == "" {
			own = b.intent.Target
		}
		return nil, toolweave.String(own)
	}

	src := b.source()
	deps := []string{b.prev()}
	if src != b.prev() {
		deps = append(deps, src)
	}
	if own != "" && !c.pronoun {
		return deps, toolweave.String(own)
	}
	return deps, toolweave.RefOr(src, "className", b.globalTarget())
}

func analysisTool(c clause) string {
	lower := strings.ToLower(c.text)
	switch {
	case strings.Contains(lower, "dependenc"):
		return toolweave.ToolAnalyzeDependencies
	case strings.Contains(lower, "inherit") || strings.Contains(lower, "hierarch") ||
		strings.Contains(lower, "subclass") || strings.Contains(lower, "derived"):
		return toolweave.ToolAnalyzeInheritance
	case strings.Contains(lower, "pattern"):
		return toolweave.ToolDetectDesignPatterns
	case c.typ == "enum" || strings.Contains(lower, "value"):
		return toolweave.ToolGetEnumValues
	default:
		return toolweave.ToolGetClassDetails
	}
}

func (b *builder) addAnalysis(c clause) {
	tool := analysisTool(c)
	deps, subject := b.subject(c)
	params := toolweave.Params{}
	switch tool {
	case toolweave.ToolGetEnumValues:
		params["enumName"] = subject
	case toolweave.ToolDetectDesignPatterns:
		if s, ok := subject.AsString(); !ok || s != toolweave.UnknownTarget {
			params["className"] = subject
		}
		if ns, ok := b.filters(c)["namespace"]; ok {
			params["namespace"] = ns
		}
	default:
		params["className"] = subject
	}
	b.add(tool, params, deps, c.text)
}

func (b *builder) addGeneration(c clause) {
	deps, subject := b.subject(c)
	lower := strings.ToLower(c.text)
	if strings.Contains(lower, "template") {
		name := "default"
		if m := templateNamePattern.FindStringSubmatch(c.text); m != nil && !stopWords[strings.ToLower(m[1])] {
			name = strings.ToLower(m[1])
		}
		params := toolweave.Params{"templateName": toolweave.String(name), "className": subject}
		b.add(toolweave.ToolApplyCodeTemplate, params, deps, c.text)
		return
	}
	params := toolweave.Params{"description": toolweave.String(c.text), "className": subject}
	b.add(toolweave.ToolGenerateCode, params, deps, c.text)
}

func (b *builder) addComparison(c clause) {
	if len(c.targets) >= 2 && !c.pronoun {
		items := make([]toolweave.Value, len(c.targets))
		for i, t := range c.targets {
			items[i] = toolweave.String(t)
		}
		b.add(toolweave.ToolCompareClasses, toolweave.Params{"classNames": toolweave.List(items...)}, nil, c.text)
		return
	}

	var items []toolweave.Value
	var deps []string
	for _, id := range b.searchGroup {
		items = append(items, toolweave.RefOr(id, "className", ""))
		deps = append(deps, id)
	}
	for _, t := range c.targets {
		if t != b.searchTarget {
			items = append(items, toolweave.String(t))
		}
	}
	if prev := b.prev(); prev != "" && !containsString(deps, prev) {
		deps = append(deps, prev)
	}
	b.add(toolweave.ToolCompareClasses, toolweave.Params{"classNames": toolweave.List(items...)}, deps, c.text)
}

// ensureFollowUp gives a complex request that collapsed into a lone search a
// detail step on what the search found.
func (b *builder) ensureFollowUp() {
	if len(b.tasks) != 1 {
		return
	}
	first := b.tasks[0].ID
	params := toolweave.Params{"className": toolweave.RefOr(first, "className", b.globalTarget())}
	b.add(toolweave.ToolGetClassDetails, params, []string{first}, "inspect what was found")
}
