package selector

import (
	"fmt"

	"github.com/ZanzyTHEbar/toolweave"
)

// Validation is the structural verdict on a tool result.
type Validation struct {
	Valid   bool     `json:"valid"`
	Quality float64  `json:"quality"`
	Issues  []string `json:"issues,omitempty"`
}

// ValidateResult checks a result's structure and scores it from 1.0 down,
// one penalty per defect, floored at 0.
func ValidateResult(result *toolweave.ToolExecutionResult) Validation {
	v := Validation{Valid: true, Quality: 1.0}
	penalize := func(amount float64, issue string) {
		v.Valid = false
		v.Quality -= amount
		v.Issues = append(v.Issues, issue)
	}

	if result == nil {
		return Validation{Valid: false, Quality: 0, Issues: []string{"result is missing"}}
	}

	if !result.Success {
		if result.Error == "" {
			penalize(0.3, "failed result carries no error message")
		}
		return v.floor()
	}

	if len(result.Data) == 0 {
		penalize(0.4, "successful result has no data")
		penalize(0.6, "successful result returned zero results")
		return v.floor()
	}

	for i, item := range result.Data {
		if item.Content == "" {
			penalize(0.2, fmt.Sprintf("item %d has no content", i))
		}
		if len(item.Metadata) == 0 {
			penalize(0.1, fmt.Sprintf("item %d has no metadata", i))
		}
	}
	return v.floor()
}

func (v Validation) floor() Validation {
	if v.Quality < 0 {
		v.Quality = 0
	}
	return v
}
