package synthesis

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
)

// Style is the formatting applied to a tool's items.
type Style string

const (
	StyleSearch     Style = "search"
	StyleGeneration Style = "generation"
	StyleAnalysis   Style = "analysis"
)

// StyleFor picks a formatting style from the tool name.
func StyleFor(toolName string) Style {
	name := strings.ToLower(toolName)
	switch {
	case strings.Contains(name, "search"), strings.Contains(name, "find"), strings.Contains(name, "list"):
		return StyleSearch
	case strings.Contains(name, "generate"), strings.Contains(name, "template"):
		return StyleGeneration
	default:
		return StyleAnalysis
	}
}

func itemLabel(item toolweave.Item) string {
	for _, f := range []string{"className", "name"} {
		if s, ok := item.Metadata.GetString(f); ok && s != "" {
			return s
		}
	}
	return ""
}

func renderItems(sb *strings.Builder, toolName string, items []toolweave.Item) {
	switch StyleFor(toolName) {
	case StyleSearch:
		fmt.Fprintf(sb, "Found %d result(s):\n", len(items))
		for _, item := range items {
			label := itemLabel(item)
			line := firstLine(item.Content)
			switch {
			case label != "" && line != "" && label != line:
				fmt.Fprintf(sb, "- %s: %s", label, line)
			case label != "":
				fmt.Fprintf(sb, "- %s", label)
			default:
				fmt.Fprintf(sb, "- %s", line)
			}
			if path, ok := item.Metadata.GetString("filePath"); ok && path != "" {
				fmt.Fprintf(sb, " (%s)", path)
			}
			sb.WriteByte('\n')
		}

	case StyleGeneration:
		for _, item := range items {
			if label := itemLabel(item); label != "" {
				fmt.Fprintf(sb, "Generated %s:\n", label)
			}
			sb.WriteString("```\n")
			sb.WriteString(strings.TrimRight(item.Content, "\n"))
			sb.WriteString("\n```\n")
		}

	default:
		for _, item := range items {
			if label := itemLabel(item); label != "" {
				fmt.Fprintf(sb, "%s:\n", label)
			}
			if c := strings.TrimSpace(item.Content); c != "" {
				sb.WriteString(c)
				sb.WriteByte('\n')
			}
			for _, k := range item.Metadata.Keys() {
				if k == "name" || k == "className" {
					continue
				}
				fmt.Fprintf(sb, "  %s: %s\n", k, item.Metadata[k].Text())
			}
		}
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func renderCorrelations(sb *strings.Builder, correlations []toolweave.ResultCorrelation) {
	if len(correlations) == 0 {
		return
	}
	sb.WriteString("\n## Correlations\n")
	for _, c := range correlations {
		fmt.Fprintf(sb, "- [%s] %s (strength %.2f)\n", c.CorrelationType, c.Description, c.Strength)
	}
}

func renderFailure(request string, issues []string) string {
	var sb strings.Builder
	sb.WriteString("Unable to complete the request")
	if request != "" {
		fmt.Fprintf(&sb, " %q", request)
	}
	sb.WriteString(".\n")
	for _, issue := range issues {
		fmt.Fprintf(&sb, "- %s\n", issue)
	}
	return sb.String()
}
