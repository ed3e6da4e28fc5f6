package selector

import (
	"math"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
)

// CompatibilityThreshold is the score above which two tools are compatible.
const CompatibilityThreshold = 0.3

// defaultSuccessRate seeds the historical success rate of tools never run.
const defaultSuccessRate = 0.9

// CapabilityMap describes every registered tool and how tools relate.
// It is built once per Selector and never modified.
type CapabilityMap struct {
	Tools           map[string]*toolweave.ToolCapability
	Categories      map[string][]string
	ComplexityTiers map[toolweave.Complexity][]string
	// Compatibility holds the pairwise score for every ordered pair of distinct tools.
	Compatibility map[string]map[string]float64
}

// Compatible reports whether a and b score above CompatibilityThreshold.
func (m *CapabilityMap) Compatible(a, b string) bool {
	return m.Compatibility[a][b] > CompatibilityThreshold
}

// CompatibleWith returns the tools compatible with name, best first.
func (m *CapabilityMap) CompatibleWith(name string) []string {
	var out []string
	for other, score := range m.Compatibility[name] {
		if score > CompatibilityThreshold {
			out = append(out, other)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		si, sj := m.Compatibility[name][out[i]], m.Compatibility[name][out[j]]
		if si != sj {
			return si > sj
		}
		return out[i] < out[j]
	})
	return out
}

// relationshipTable holds the static relationship hints between the standard tools.
var relationshipTable = map[string]toolweave.ToolRelationships{
	toolweave.ToolSearchCode: {
		Complementary: []string{toolweave.ToolFindMonoBehaviours},
		FollowUp:      []string{toolweave.ToolGetClassDetails, toolweave.ToolAnalyzeInheritance, toolweave.ToolAnalyzeDependencies},
	},
	toolweave.ToolFindMonoBehaviours: {
		Complementary: []string{toolweave.ToolFindScriptableObjects},
		Alternatives:  []string{toolweave.ToolSearchCode},
		FollowUp:      []string{toolweave.ToolGetClassDetails, toolweave.ToolDetectDesignPatterns},
	},
	toolweave.ToolFindScriptableObjects: {
		Complementary: []string{toolweave.ToolFindMonoBehaviours},
		Alternatives:  []string{toolweave.ToolSearchCode},
		FollowUp:      []string{toolweave.ToolGetClassDetails},
	},
	toolweave.ToolFindEnums: {
		Alternatives: []string{toolweave.ToolSearchCode},
		FollowUp:     []string{toolweave.ToolGetEnumValues},
	},
	toolweave.ToolGetClassDetails: {
		Complementary: []string{toolweave.ToolDetectDesignPatterns},
		Prerequisites: []string{toolweave.ToolSearchCode},
		FollowUp:      []string{toolweave.ToolAnalyzeInheritance, toolweave.ToolAnalyzeDependencies, toolweave.ToolGenerateCode},
	},
	toolweave.ToolGetEnumValues: {
		Complementary: []string{toolweave.ToolGetClassDetails},
		Prerequisites: []string{toolweave.ToolFindEnums},
	},
	toolweave.ToolAnalyzeInheritance: {
		Complementary: []string{toolweave.ToolAnalyzeDependencies},
		Alternatives:  []string{toolweave.ToolGetClassDetails},
		Prerequisites: []string{toolweave.ToolSearchCode},
		FollowUp:      []string{toolweave.ToolGenerateCode, toolweave.ToolCompareClasses},
	},
	toolweave.ToolAnalyzeDependencies: {
		Complementary: []string{toolweave.ToolAnalyzeInheritance},
		Prerequisites: []string{toolweave.ToolSearchCode},
		FollowUp:      []string{toolweave.ToolGenerateCode, toolweave.ToolDetectDesignPatterns},
	},
	toolweave.ToolDetectDesignPatterns: {
		Complementary: []string{toolweave.ToolAnalyzeDependencies},
		Prerequisites: []string{toolweave.ToolFindMonoBehaviours},
		FollowUp:      []string{toolweave.ToolGenerateCode, toolweave.ToolApplyCodeTemplate},
	},
	toolweave.ToolCompareClasses: {
		Complementary: []string{toolweave.ToolAnalyzeInheritance},
		Prerequisites: []string{toolweave.ToolSearchCode},
	},
	toolweave.ToolGenerateCode: {
		Complementary: []string{toolweave.ToolApplyCodeTemplate},
		Alternatives:  []string{toolweave.ToolApplyCodeTemplate},
		Prerequisites: []string{toolweave.ToolGetClassDetails},
	},
	toolweave.ToolApplyCodeTemplate: {
		Complementary: []string{toolweave.ToolGenerateCode},
		Alternatives:  []string{toolweave.ToolGenerateCode},
		Prerequisites: []string{toolweave.ToolGetClassDetails},
	},
}

// BuildCapabilityMap derives the capability map from the registry on first
// use and returns the memoized map afterwards.
func (s *Selector) BuildCapabilityMap() *CapabilityMap {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	if s.capMap != nil {
		return s.capMap
	}

	m := &CapabilityMap{
		Tools:           make(map[string]*toolweave.ToolCapability),
		Categories:      make(map[string][]string),
		ComplexityTiers: make(map[toolweave.Complexity][]string),
		Compatibility:   make(map[string]map[string]float64),
	}

	names := append([]string(nil), s.registry.ListToolNames()...)
	sort.Strings(names)
	for _, name := range names {
		meta, ok := s.registry.GetMetadata(name)
		if !ok {
			s.logger.Warn().Str("tool", name).Msg("Registry listed tool without metadata")
			continue
		}
		c := deriveCapability(name, meta)
		m.Tools[name] = c
		m.Categories[c.Category] = append(m.Categories[c.Category], name)
		m.ComplexityTiers[c.Complexity] = append(m.ComplexityTiers[c.Complexity], name)
	}

	for _, a := range names {
		ca, ok := m.Tools[a]
		if !ok {
			continue
		}
		row := make(map[string]float64)
		for _, b := range names {
			cb, ok := m.Tools[b]
			if !ok || a == b {
				continue
			}
			row[b] = compatibility(ca, cb)
		}
		m.Compatibility[a] = row
	}

	s.logger.Debug().Int("tools", len(m.Tools)).Int("categories", len(m.Categories)).Msg("Capability map built")
	s.capMap = m
	return m
}

func deriveCapability(name string, meta toolweave.ToolMetadata) *toolweave.ToolCapability {
	complexity := meta.Complexity
	if complexity < toolweave.ComplexitySimple {
		complexity = toolweave.ComplexitySimple
	}
	if complexity > toolweave.ComplexityComplex {
		complexity = toolweave.ComplexityComplex
	}

	c := &toolweave.ToolCapability{
		Name:           name,
		Category:       meta.Category,
		Complexity:     complexity,
		RequiredParams: append([]string(nil), meta.RequiredParams...),
		OptionalParams: append([]string(nil), meta.OptionalParams...),
		ParamTypes:     make(map[string]toolweave.Kind),
		OutputShape:    outputShape(meta.Category),
		Performance: toolweave.ToolPerformance{
			AvgExecTimeMs:  float64(meta.EstimatedCost().Milliseconds()),
			MemoryEstimate: memoryEstimate(complexity),
			SuccessRate:    defaultSuccessRate,
		},
		Relationships: relationshipTable[name],
	}
	for _, p := range c.AllParams() {
		c.ParamTypes[p] = paramKind(p)
	}
	return c
}

func compatibility(a, b *toolweave.ToolCapability) float64 {
	score := 0.0
	params := make(map[string]struct{})
	for _, p := range a.AllParams() {
		params[p] = struct{}{}
	}
	for _, p := range b.AllParams() {
		if _, ok := params[p]; ok {
			score += 0.2
		}
	}
	if a.Category == b.Category {
		score += 0.3
	}
	delta := math.Abs(float64(a.Complexity - b.Complexity))
	score += 0.1 * (3 - delta)
	return score
}

func outputShape(category string) string {
	switch category {
	case toolweave.CategorySearch:
		return "list"
	case toolweave.CategoryGeneration:
		return "code"
	default:
		return "report"
	}
}

func memoryEstimate(c toolweave.Complexity) string {
	switch c {
	case toolweave.ComplexitySimple:
		return "low"
	case toolweave.ComplexityModerate:
		return "medium"
	default:
		return "high"
	}
}

func paramKind(name string) toolweave.Kind {
	lower := strings.ToLower(name)
	switch {
	case strings.HasPrefix(lower, "include"), strings.HasPrefix(lower, "is"):
		return toolweave.KindBool
	case strings.HasPrefix(lower, "max"), strings.HasSuffix(lower, "limit"), strings.HasSuffix(lower, "depth"):
		return toolweave.KindNumber
	case strings.HasSuffix(lower, "names"), strings.HasSuffix(lower, "list"):
		return toolweave.KindList
	default:
		return toolweave.KindString
	}
}
