package toolweave

import (
	"strings"
	"time"
)

// Names of the standard code-analysis tools.
const (
	ToolSearchCode            = "search_code"
	ToolFindMonoBehaviours    = "find_monobehaviours"
	ToolFindScriptableObjects = "find_scriptable_objects"
	ToolFindEnums             = "find_enums"
	ToolGetClassDetails       = "get_class_details"
	ToolGetEnumValues         = "get_enum_values"
	ToolAnalyzeInheritance    = "analyze_inheritance"
	ToolAnalyzeDependencies   = "analyze_dependencies"
	ToolDetectDesignPatterns  = "detect_design_patterns"
	ToolCompareClasses        = "compare_classes"
	ToolGenerateCode          = "generate_code"
	ToolApplyCodeTemplate     = "apply_code_template"
)

// Tool categories.
const (
	CategorySearch     = "search"
	CategoryAnalysis   = "analysis"
	CategoryGeneration = "generation"
)

// DefaultCost is assumed when a nominal cost cannot be interpreted.
const DefaultCost = time.Second

var namedCosts = map[string]time.Duration{
	"fast":   200 * time.Millisecond,
	"low":    200 * time.Millisecond,
	"medium": 800 * time.Millisecond,
	"slow":   2 * time.Second,
	"high":   2 * time.Second,
}

// ParseCost interprets a nominal cost estimate such as "fast", "~1.5s" or "300ms".
func ParseCost(nominal string) time.Duration {
	s := strings.ToLower(strings.TrimSpace(nominal))
	s = strings.TrimLeft(s, "~<>= ")
	if s == "" {
		return DefaultCost
	}
	if d, ok := namedCosts[s]; ok {
		return d
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return DefaultCost
}

// EstimatedCost returns the parsed nominal cost.
func (m ToolMetadata) EstimatedCost() time.Duration {
	return ParseCost(m.NominalCost)
}
