package planner

import (
	"context"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
)

// UnknownType is used when no type keyword was found.
const UnknownType = "unknown"

var (
	wordPattern      = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]*`)
	camelCasePattern = regexp.MustCompile(`^[A-Z][a-z0-9]+(?:[A-Z][a-z0-9]*)+$`)
	capitalPattern   = regexp.MustCompile(`^[A-Z][A-Za-z0-9_]*$`)
	namespacePattern = regexp.MustCompile(`(?i)(?:\bnamespace\s+([A-Za-z_][\w.]*))|(?:\b(?:in|from|within)\s+(?:the\s+)?([A-Za-z_][\w.]*)\s+namespace\b)`)
	baseClassPattern = regexp.MustCompile(`(?i)\b(?:derived\s+from|derive\s+from|inherits?\s+from|inheriting\s+from|extends|subclass(?:es)?\s+of)\s+([A-Z]\w*)`)
)

type actionKeyword struct {
	word   string
	action toolweave.Action
}

var actionKeywords = []actionKeyword{
	{"find", toolweave.ActionFind},
	{"locate", toolweave.ActionFind},
	{"search", toolweave.ActionSearch},
	{"look", toolweave.ActionSearch},
	{"list", toolweave.ActionList},
	{"show", toolweave.ActionList},
	{"analyze", toolweave.ActionAnalyze},
	{"analyse", toolweave.ActionAnalyze},
	{"examine", toolweave.ActionAnalyze},
	{"inspect", toolweave.ActionAnalyze},
	{"explain", toolweave.ActionAnalyze},
	{"describe", toolweave.ActionAnalyze},
	{"detect", toolweave.ActionAnalyze},
	{"get", toolweave.ActionAnalyze},
	{"generate", toolweave.ActionGenerate},
	{"create", toolweave.ActionGenerate},
	{"write", toolweave.ActionGenerate},
	{"scaffold", toolweave.ActionGenerate},
	{"compare", toolweave.ActionCompare},
}

type typeKeyword struct {
	stem string
	typ  string
}

// typeKeywords is checked in order; the first matching stem wins.
var typeKeywords = []typeKeyword{
	{"monobehaviour", "component"},
	{"monobehavior", "component"},
	{"component", "component"},
	{"scriptableobject", "scriptableobject"},
	{"scriptable", "scriptableobject"},
	{"enum", "enum"},
	{"interface", "interface"},
	{"method", "method"},
	{"function", "method"},
	{"template", "template"},
	{"class", "class"},
}

// nonTargets are capitalized words that never name a target.
var nonTargets = map[string]bool{
	"monobehaviour": true, "monobehaviours": true, "monobehavior": true, "monobehaviors": true,
	"scriptableobject": true, "scriptableobjects": true, "unity": true, "i": true,
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "then": true, "also": true,
	"of": true, "in": true, "on": true, "for": true, "to": true, "from": true, "with": true,
	"its": true, "it": true, "their": true, "them": true, "this": true, "that": true, "these": true,
	"those": true, "all": true, "any": true, "some": true, "me": true, "my": true, "is": true,
	"are": true, "be": true, "by": true, "as": true, "at": true, "into": true, "please": true,
	"can": true, "you": true, "what": true, "which": true, "how": true, "does": true, "do": true,
}

// PatternExtractor extracts intents with keyword and regex heuristics.
type PatternExtractor struct{}

// NewPatternExtractor returns the default extractor.
func NewPatternExtractor() *PatternExtractor {
	return &PatternExtractor{}
}

// ExtractIntent implements toolweave.IntentExtractor.
func (p *PatternExtractor) ExtractIntent(ctx context.Context, request string) (*toolweave.Intent, error) {
	if err := ctx.Err(); err != nil {
		return nil, toolweave.NewCancelledError("decomposition", err)
	}
	if strings.TrimSpace(request) == "" {
		return nil, toolweave.NewDecompositionError("request is empty", nil)
	}
	return Extract(request), nil
}

// Extract runs the pattern heuristics over request.
func Extract(request string) *toolweave.Intent {
	action, matched := detectAction(request)
	target := detectTarget(request)
	typ := detectType(request)

	intent := &toolweave.Intent{
		Action:   action,
		Target:   target,
		Type:     typ,
		Filters:  detectFilters(request),
		Keywords: detectKeywords(request),
	}

	confidence := 0.5
	if matched {
		confidence += 0.2
	}
	if target != toolweave.UnknownTarget {
		confidence += 0.2
	}
	if typ != UnknownType {
		confidence += 0.1
	}
	if confidence > 1 {
		confidence = 1
	}
	intent.Confidence = confidence
	return intent
}

func words(s string) []string {
	return wordPattern.FindAllString(s, -1)
}

// detectAction returns the action of the earliest action keyword.
func detectAction(s string) (toolweave.Action, bool) {
	for _, w := range words(s) {
		if a, ok := actionFor(w); ok {
			return a, true
		}
	}
	return toolweave.ActionSearch, false
}

func actionFor(word string) (toolweave.Action, bool) {
	lower := strings.ToLower(word)
	for _, kw := range actionKeywords {
		if lower == kw.word || lower == kw.word+"s" {
			return kw.action, true
		}
	}
	return "", false
}

func isActionWord(word string) bool {
	_, ok := actionFor(word)
	return ok
}

func detectTarget(s string) string {
	tokens := words(s)
	for _, w := range tokens {
		if camelCasePattern.MatchString(w) && !nonTargets[strings.ToLower(w)] {
			return w
		}
	}
	for _, w := range tokens {
		lower := strings.ToLower(w)
		if capitalPattern.MatchString(w) && !isActionWord(w) && !nonTargets[lower] && !stopWords[lower] && !isTypeWord(lower) {
			return w
		}
	}
	return toolweave.UnknownTarget
}

func isTypeWord(lower string) bool {
	for _, kw := range typeKeywords {
		if strings.HasPrefix(lower, kw.stem) {
			return true
		}
	}
	return false
}

func detectType(s string) string {
	lower := strings.ToLower(s)
	compact := strings.ReplaceAll(lower, " ", "")
	for _, kw := range typeKeywords {
		if strings.Contains(lower, kw.stem) || (kw.stem == "scriptableobject" && strings.Contains(compact, kw.stem)) {
			return kw.typ
		}
	}
	return UnknownType
}

func detectFilters(s string) toolweave.Params {
	filters := toolweave.Params{}
	if m := namespacePattern.FindStringSubmatch(s); m != nil {
		ns := m[1]
		if ns == "" {
			ns = m[2]
		}
		filters["namespace"] = toolweave.String(ns)
	}
	if m := baseClassPattern.FindStringSubmatch(s); m != nil {
		filters["baseClass"] = toolweave.String(m[1])
	}
	for _, w := range words(s) {
		if strings.EqualFold(w, "all") || strings.EqualFold(w, "every") {
			filters["scope"] = toolweave.String("all")
			break
		}
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func detectKeywords(s string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range words(s) {
		lower := strings.ToLower(w)
		if len(lower) < 3 || stopWords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, lower)
	}
	return out
}
