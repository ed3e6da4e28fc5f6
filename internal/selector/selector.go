// Package selector picks the tool best suited to an intent and executes
// tools with retry and backoff.
package selector

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/rs/zerolog"
)

// Strategy controls how the final choice is made from the ranked candidates.
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyBalanced     Strategy = "balanced"
	StrategyAggressive   Strategy = "aggressive"
	StrategyAdaptive     Strategy = "adaptive"
)

// ParseStrategy maps a configuration string onto a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyConservative:
		return StrategyConservative, nil
	case StrategyBalanced, "":
		return StrategyBalanced, nil
	case StrategyAggressive:
		return StrategyAggressive, nil
	case StrategyAdaptive:
		return StrategyAdaptive, nil
	}
	return "", toolweave.NewConfigurationError(fmt.Sprintf("unknown selection strategy '%s'", s), nil)
}

func (s Strategy) threshold() (float64, bool) {
	switch s {
	case StrategyConservative:
		return 0.8, true
	case StrategyBalanced:
		return 0.7, true
	}
	return 0, false
}

// Context is what is known about the session when selecting.
type Context struct {
	PreviousTools  []string
	AvailableData  []string
	SessionHistory []string
}

// Constraints restrict the candidate set.
type Constraints struct {
	MaxExecutionTime    time.Duration
	MaxComplexity       toolweave.Complexity
	PreferredCategories []string
	ExcludedTools       []string
}

// Criteria is the input to Select.
type Criteria struct {
	Intent      *toolweave.Intent
	Context     Context
	Constraints Constraints
	// Strategy overrides the selector default when set.
	Strategy Strategy
}

// Candidate is a scored tool.
type Candidate struct {
	Tool             string  `json:"tool"`
	Score            float64 `json:"score"`
	IntentMatch      float64 `json:"intentMatch"`
	ContextRelevance float64 `json:"contextRelevance"`
	SuccessRate      float64 `json:"successRate"`
	Preference       float64 `json:"preference"`
	EstimatedTimeMs  float64 `json:"estimatedTimeMs"`
}

// Selection is the result of Select.
type Selection struct {
	Tool         string      `json:"tool"`
	Score        float64     `json:"score"`
	Strategy     Strategy    `json:"strategy"`
	Alternatives []Candidate `json:"alternatives"`
	// MeetsThreshold is false when the strategy threshold was not reached
	// and the top candidate was taken anyway.
	MeetsThreshold bool   `json:"meetsThreshold"`
	Reasoning      string `json:"reasoning"`
}

// Selector scores and executes tools.
type Selector struct {
	registry toolweave.Registry
	invoker  toolweave.Invoker
	logger   zerolog.Logger

	strategy       Strategy
	retryAttempts  int
	retryBaseDelay time.Duration
	timeout        time.Duration
	maxParallel    int
	learning       bool

	capMu  sync.Mutex
	capMap *CapabilityMap

	stats *learningStats
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Selector) {
		s.logger = logger.With().Str("component", "selector").Logger()
	}
}

// WithStrategy sets the default selection strategy.
func WithStrategy(strategy Strategy) Option {
	return func(s *Selector) {
		s.strategy = strategy
	}
}

// WithRetry sets the retry budget and the base backoff delay.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(s *Selector) {
		s.retryAttempts = attempts
		s.retryBaseDelay = baseDelay
	}
}

// WithTimeout sets the per-call timeout. Zero disables it.
func WithTimeout(timeout time.Duration) Option {
	return func(s *Selector) {
		s.timeout = timeout
	}
}

// WithMaxParallel bounds concurrent calls in ExecuteToolsInParallel.
func WithMaxParallel(n int) Option {
	return func(s *Selector) {
		s.maxParallel = n
	}
}

// WithLearning enables or disables outcome learning.
func WithLearning(enabled bool) Option {
	return func(s *Selector) {
		s.learning = enabled
	}
}

// New creates a Selector over the given registry and invoker.
func New(registry toolweave.Registry, invoker toolweave.Invoker, options ...Option) *Selector {
	s := &Selector{
		registry:       registry,
		invoker:        invoker,
		logger:         zerolog.Nop(),
		strategy:       StrategyBalanced,
		retryAttempts:  3,
		retryBaseDelay: time.Second,
		timeout:        30 * time.Second,
		maxParallel:    5,
		learning:       true,
		stats:          newLearningStats(),
	}
	for _, option := range options {
		option(s)
	}
	if s.maxParallel <= 0 {
		s.maxParallel = 1
	}
	return s
}

// Capability returns a copy of a tool's capability with learned performance merged in.
func (s *Selector) Capability(name string) (toolweave.ToolCapability, bool) {
	c, ok := s.BuildCapabilityMap().Tools[name]
	if !ok {
		return toolweave.ToolCapability{}, false
	}
	out := *c
	if perf, ok := s.stats.performance(name); ok {
		out.Performance.SuccessRate = perf.SuccessRate
		out.Performance.AvgExecTimeMs = perf.AvgExecTimeMs
	}
	return out, true
}

// actionCategory maps an action family onto the tool category serving it.
func actionCategory(a toolweave.Action) string {
	switch a.Family() {
	case toolweave.ActionAnalyze, toolweave.ActionCompare:
		return toolweave.CategoryAnalysis
	case toolweave.ActionGenerate:
		return toolweave.CategoryGeneration
	default:
		return toolweave.CategorySearch
	}
}

// preferredTools lists, per action family, the tools that serve it directly.
var preferredTools = map[toolweave.Action][]string{
	toolweave.ActionSearch:   {toolweave.ToolSearchCode},
	toolweave.ActionAnalyze:  {toolweave.ToolGetClassDetails, toolweave.ToolAnalyzeDependencies, toolweave.ToolAnalyzeInheritance},
	toolweave.ActionGenerate: {toolweave.ToolGenerateCode},
	toolweave.ActionCompare:  {toolweave.ToolCompareClasses},
}

// typeTools lists the tools that specialise in an intent type.
var typeTools = map[string][]string{
	"component":        {toolweave.ToolFindMonoBehaviours, toolweave.ToolDetectDesignPatterns},
	"enum":             {toolweave.ToolFindEnums, toolweave.ToolGetEnumValues},
	"scriptableobject": {toolweave.ToolFindScriptableObjects},
	"class":            {toolweave.ToolSearchCode, toolweave.ToolGetClassDetails},
	"interface":        {toolweave.ToolSearchCode, toolweave.ToolAnalyzeInheritance},
	"method":           {toolweave.ToolSearchCode},
	"template":         {toolweave.ToolApplyCodeTemplate},
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func intentMatch(intent *toolweave.Intent, c *toolweave.ToolCapability) float64 {
	if intent == nil {
		return 0.5
	}
	score := 0.1
	if c.Category == actionCategory(intent.Action) {
		score = 0.6
		if contains(preferredTools[intent.Action.Family()], c.Name) {
			score += 0.2
		}
	}
	if contains(typeTools[intent.Type], c.Name) {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

func contextRelevance(ctx Context, c *toolweave.ToolCapability, m *CapabilityMap) float64 {
	score := 0.0
	if n := len(ctx.PreviousTools); n > 0 {
		if last, ok := m.Tools[ctx.PreviousTools[n-1]]; ok {
			if contains(last.Relationships.FollowUp, c.Name) {
				score += 0.3
			}
			if contains(last.Relationships.Complementary, c.Name) {
				score += 0.2
			}
		}
	}
	if len(c.RequiredParams) > 0 && len(ctx.AvailableData) > 0 {
		satisfied := true
		for _, p := range c.RequiredParams {
			if !contains(ctx.AvailableData, p) {
				satisfied = false
				break
			}
		}
		if satisfied {
			score += 0.2
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Rank filters and scores every candidate, best first.
func (s *Selector) Rank(criteria Criteria) []Candidate {
	m := s.BuildCapabilityMap()

	names := make([]string, 0, len(m.Tools))
	for name := range m.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	var action toolweave.Action
	if criteria.Intent != nil {
		action = criteria.Intent.Action.Family()
	}

	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		c := m.Tools[name]
		cons := criteria.Constraints
		if contains(cons.ExcludedTools, name) {
			continue
		}
		if cons.MaxComplexity > 0 && c.Complexity > cons.MaxComplexity {
			continue
		}
		if len(cons.PreferredCategories) > 0 && !contains(cons.PreferredCategories, c.Category) {
			continue
		}

		perf := c.Performance
		if learned, ok := s.stats.performance(name); ok {
			perf.SuccessRate = learned.SuccessRate
			perf.AvgExecTimeMs = learned.AvgExecTimeMs
		}

		cand := Candidate{
			Tool:             name,
			IntentMatch:      intentMatch(criteria.Intent, c),
			ContextRelevance: contextRelevance(criteria.Context, c, m),
			SuccessRate:      perf.SuccessRate,
			Preference:       s.stats.preference(action, name),
			EstimatedTimeMs:  perf.AvgExecTimeMs,
		}
		cand.Score = 0.5*cand.IntentMatch + 0.2*cand.ContextRelevance + 0.2*cand.SuccessRate + 0.1*cand.Preference
		if contains(criteria.Context.PreviousTools, name) {
			cand.Score *= 0.3
		}
		out = append(out, cand)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// Select ranks the candidates and applies the selection strategy.
func (s *Selector) Select(criteria Criteria) (*Selection, error) {
	strategy := criteria.Strategy
	if strategy == "" {
		strategy = s.strategy
	}

	candidates := s.Rank(criteria)
	if strategy == StrategyAdaptive && criteria.Constraints.MaxExecutionTime > 0 {
		limit := float64(criteria.Constraints.MaxExecutionTime.Milliseconds())
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if c.EstimatedTimeMs <= limit {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	if len(candidates) == 0 {
		return nil, toolweave.NewSelectionError("no candidate tools satisfy the selection criteria", nil)
	}

	chosen := 0
	meets := true
	if threshold, ok := strategy.threshold(); ok {
		meets = false
		for i, c := range candidates {
			if c.Score > threshold {
				chosen, meets = i, true
				break
			}
		}
	}

	pick := candidates[chosen]
	alternatives := make([]Candidate, 0, len(candidates)-1)
	for i, c := range candidates {
		if i != chosen {
			alternatives = append(alternatives, c)
		}
	}

	sel := &Selection{
		Tool:           pick.Tool,
		Score:          pick.Score,
		Strategy:       strategy,
		Alternatives:   alternatives,
		MeetsThreshold: meets,
		Reasoning: fmt.Sprintf("%s selected %s (intent %.2f, context %.2f, success %.2f, preference %.2f)",
			strategy, pick.Tool, pick.IntentMatch, pick.ContextRelevance, pick.SuccessRate, pick.Preference),
	}
	s.logger.Debug().Str("tool", sel.Tool).Float64("score", sel.Score).Str("strategy", string(strategy)).
		Bool("meets_threshold", meets).Msg("Tool selected")
	return sel, nil
}
