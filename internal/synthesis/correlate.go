package synthesis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/google/uuid"
)

var classDeclPattern = regexp.MustCompile(`\bclass\s+([A-Za-z_][A-Za-z0-9_]*)`)

// entityFields are the metadata fields naming an entity.
var entityFields = []string{"name", "className"}

// sourced is one result together with the tool that produced it.
type sourced struct {
	tool   string
	result *toolweave.ToolExecutionResult
}

type stringSet map[string]struct{}

func (s stringSet) add(v string) {
	if v = strings.TrimSpace(v); v != "" {
		s[v] = struct{}{}
	}
}

func (s stringSet) intersect(o stringSet) []string {
	var out []string
	for v := range s {
		if _, ok := o[v]; ok {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func metadataStrings(p toolweave.Params, field string, into stringSet) {
	v, ok := p[field]
	if !ok {
		return
	}
	if s, ok := v.AsString(); ok {
		into.add(s)
		return
	}
	if items, ok := v.AsList(); ok {
		for _, item := range items {
			if s, ok := item.AsString(); ok {
				into.add(s)
			}
		}
	}
}

// entities collects the names a result mentions: the name and className
// metadata fields plus class declarations found in item content.
func entities(r *toolweave.ToolExecutionResult) stringSet {
	set := make(stringSet)
	for _, f := range entityFields {
		metadataStrings(r.Metadata, f, set)
	}
	for _, item := range r.Data {
		for _, f := range entityFields {
			metadataStrings(item.Metadata, f, set)
		}
		for _, m := range classDeclPattern.FindAllStringSubmatch(item.Content, -1) {
			set.add(m[1])
		}
	}
	return set
}

func filePaths(r *toolweave.ToolExecutionResult) stringSet {
	set := make(stringSet)
	metadataStrings(r.Metadata, "filePath", set)
	for _, item := range r.Data {
		metadataStrings(item.Metadata, "filePath", set)
	}
	return set
}

func overlap(a, b stringSet) ([]string, float64) {
	shared := a.intersect(b)
	if len(shared) == 0 {
		return nil, 0
	}
	return shared, float64(len(shared)) / float64(max(len(a), len(b)))
}

// Correlate finds entity and file overlaps between every unordered pair of
// results. toolNames[i] names the tool that produced results[i].
func Correlate(results []*toolweave.ToolExecutionResult, toolNames []string) []toolweave.ResultCorrelation {
	var in []sourced
	for i, r := range results {
		if r == nil {
			continue
		}
		in = append(in, sourced{tool: toolAt(toolNames, i), result: r})
	}
	return correlate(in)
}

func correlate(in []sourced) []toolweave.ResultCorrelation {
	ents := make([]stringSet, len(in))
	files := make([]stringSet, len(in))
	for i, s := range in {
		ents[i] = entities(s.result)
		files[i] = filePaths(s.result)
	}

	var out []toolweave.ResultCorrelation
	for i := 0; i < len(in); i++ {
		for j := i + 1; j < len(in); j++ {
			tools := []string{in[i].tool, in[j].tool}
			if shared, strength := overlap(ents[i], ents[j]); len(shared) > 0 {
				out = append(out, toolweave.ResultCorrelation{
					ID:              uuid.NewString(),
					CorrelationType: toolweave.CorrelationEntityRelationship,
					Entities:        shared,
					SourceTools:     tools,
					Strength:        strength,
					Confidence:      confidence(strength),
					Description: fmt.Sprintf("%s and %s both reference %s",
						tools[0], tools[1], strings.Join(shared, ", ")),
					Evidence: evidence(shared, ents[i], ents[j]),
				})
			}
			if shared, strength := overlap(files[i], files[j]); len(shared) > 0 {
				out = append(out, toolweave.ResultCorrelation{
					ID:              uuid.NewString(),
					CorrelationType: toolweave.CorrelationDataOverlap,
					Entities:        shared,
					SourceTools:     tools,
					Strength:        strength,
					Confidence:      confidence(strength),
					Description: fmt.Sprintf("%s and %s touch the same files: %s",
						tools[0], tools[1], strings.Join(shared, ", ")),
				})
			}
		}
	}
	return out
}

func confidence(strength float64) float64 {
	return min(1, 0.6+0.4*strength)
}

func evidence(shared []string, a, b stringSet) []string {
	return []string{
		fmt.Sprintf("%d shared of %d and %d entities", len(shared), len(a), len(b)),
	}
}

func toolAt(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("tool_%d", i+1)
}
