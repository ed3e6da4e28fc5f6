package synthesis

import (
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
)

// Quality is the score of one result.
type Quality struct {
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Coherence    float64 `json:"coherence"`
}

// Overall is the mean of the three components.
func (q Quality) Overall() float64 {
	return (q.Relevance + q.Completeness + q.Coherence) / 3
}

var termPattern = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_]{2,}`)

var ignoredTerms = map[string]bool{
	"the": true, "and": true, "then": true, "also": true, "all": true, "for": true,
	"with": true, "its": true, "their": true, "find": true, "show": true, "list": true,
	"get": true, "search": true, "analyze": true, "generate": true, "create": true,
	"compare": true, "class": true, "classes": true, "from": true, "into": true, "this": true,
}

// requestTerms are the lowercased content words of a request.
func requestTerms(request string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, t := range termPattern.FindAllString(request, -1) {
		t = strings.ToLower(t)
		if ignoredTerms[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func resultText(r *toolweave.ToolExecutionResult) string {
	var sb strings.Builder
	sb.WriteString(r.Metadata.Canonical())
	for _, item := range r.Data {
		sb.WriteByte('\n')
		sb.WriteString(item.Content)
		sb.WriteByte(' ')
		sb.WriteString(item.Metadata.Canonical())
	}
	return strings.ToLower(sb.String())
}

// score rates a successful result against the request.
//
// Relevance is 0.5 plus half the share of request terms found in the result.
// Completeness starts at 0.6 for a non-empty result and rises when items carry
// content and the result carries metadata. Coherence is the share of distinct,
// non-empty items.
func score(r *toolweave.ToolExecutionResult, request string) Quality {
	if r == nil || !r.Success || len(r.Data) == 0 {
		return Quality{}
	}

	q := Quality{Relevance: 1}
	if terms := requestTerms(request); len(terms) > 0 {
		text := resultText(r)
		found := 0
		for _, t := range terms {
			if strings.Contains(text, t) {
				found++
			}
		}
		q.Relevance = 0.5 + 0.5*float64(found)/float64(len(terms))
	}

	q.Completeness = 0.6
	if len(r.Metadata) > 0 {
		q.Completeness += 0.2
	}
	withContent := 0
	distinct := make(map[string]bool, len(r.Data))
	for _, item := range r.Data {
		if strings.TrimSpace(item.Content) != "" {
			withContent++
			distinct[item.Content] = true
		}
	}
	if withContent == len(r.Data) {
		q.Completeness += 0.2
	}
	q.Coherence = float64(len(distinct)) / float64(len(r.Data))
	return q
}

func clamp(v float64) float64 {
	return max(0, min(1, v))
}
