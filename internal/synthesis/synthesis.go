// Package synthesis turns tool results into a single report: it correlates
// entities across results, renders a textual summary and scores its quality.
// Malformed input never produces an error; it produces a failure-shaped
// report with issues and suggestions instead.
package synthesis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/selector"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
)

// Report is the synthesized answer.
type Report struct {
	Success      bool                          `json:"success"`
	Request      string                        `json:"request,omitempty"`
	Content      string                        `json:"content"`
	Quality      float64                       `json:"quality"`
	ToolNames    []string                      `json:"toolNames"`
	Correlations []toolweave.ResultCorrelation `json:"correlations,omitempty"`
	Issues       []string                      `json:"issues,omitempty"`
	Suggestions  []string                      `json:"suggestions,omitempty"`

	ExecutionTimeMs int64 `json:"executionTimeMs,omitempty"`
	RetryCount      int   `json:"retryCount,omitempty"`
	FromCache       bool  `json:"fromCache,omitempty"`
}

const (
	failedWorkflowPenalty = 0.7
	retryPenalty          = 0.9
	quickBonus            = 1.1
	maxCorrelationBonus   = 0.3
	correlationBonus      = 0.1
)

// Synthesizer builds reports. It is safe for concurrent use.
type Synthesizer struct {
	cache          *lru.Cache[string, *Report]
	quickThreshold time.Duration
	minConfidence  float64
	logger         zerolog.Logger
}

// Option configures a Synthesizer.
type Option func(*Synthesizer) error

// WithCacheSize sets the response cache size; 0 disables caching.
func WithCacheSize(n int) Option {
	return func(s *Synthesizer) error {
		if n <= 0 {
			s.cache = nil
			return nil
		}
		c, err := lru.New[string, *Report](n)
		if err != nil {
			return toolweave.NewConfigurationError("invalid synthesis cache size", err)
		}
		s.cache = c
		return nil
	}
}

// WithQuickThreshold sets the duration under which a retry-free workflow
// earns the quality bonus.
func WithQuickThreshold(d time.Duration) Option {
	return func(s *Synthesizer) error {
		s.quickThreshold = d
		return nil
	}
}

// WithConfidenceThreshold makes workflow reports suggest a clearer request
// when the decomposition's confidence is below t.
func WithConfidenceThreshold(t float64) Option {
	return func(s *Synthesizer) error {
		if t < 0 || t > 1 {
			return toolweave.NewConfigurationError(fmt.Sprintf("confidence threshold %.2f is outside [0, 1]", t), nil)
		}
		s.minConfidence = t
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Synthesizer) error {
		s.logger = logger
		return nil
	}
}

// New creates a Synthesizer with a 100-entry response cache.
func New(opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{
		quickThreshold: 2 * time.Second,
		logger:         zerolog.Nop(),
	}
	if err := WithCacheSize(100)(s); err != nil {
		return nil, err
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With().Str("component", "synthesis").Logger()
	return s, nil
}

// CacheLen returns the number of cached reports.
func (s *Synthesizer) CacheLen() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Len()
}

// SynthesizeSingle reports on one result.
func (s *Synthesizer) SynthesizeSingle(result *toolweave.ToolExecutionResult, toolName, request string) *Report {
	return s.Synthesize([]*toolweave.ToolExecutionResult{result}, []string{toolName}, request)
}

// Synthesize combines results into one report. toolNames[i] names the tool
// that produced results[i]. Reports are cached by request, tool names and
// result contents.
func (s *Synthesizer) Synthesize(results []*toolweave.ToolExecutionResult, toolNames []string, request string) *Report {
	key := cacheKey(results, toolNames, request)
	if s.cache != nil {
		if cached, ok := s.cache.Get(key); ok {
			s.logger.Debug().Str("key", key[:12]).Msg("Synthesis cache hit")
			out := *cached
			out.FromCache = true
			return &out
		}
	}

	report := s.build(results, toolNames, request)
	if s.cache != nil && report.Success {
		stored := *report
		s.cache.Add(key, &stored)
	}
	return report
}

// SynthesizeWorkflow reports on a whole workflow run, adjusting quality for
// failures, retries and speed.
func (s *Synthesizer) SynthesizeWorkflow(exec *toolweave.WorkflowExecution) *Report {
	if exec == nil {
		return &Report{
			Content:     renderFailure("", []string{"no workflow execution to synthesize"}),
			Issues:      []string{"no workflow execution to synthesize"},
			Suggestions: []string{"Execute a decomposition before synthesizing"},
		}
	}

	request := ""
	if exec.Decomposition != nil {
		request = exec.Decomposition.OriginalRequest
	}
	results := make([]*toolweave.ToolExecutionResult, len(exec.Results))
	names := make([]string, len(exec.Results))
	for i, o := range exec.Results {
		results[i] = o.Result
		names[i] = o.ToolName
	}

	report := s.build(results, names, request)
	retries := exec.TotalRetries()
	report.ExecutionTimeMs = exec.TotalTimeMs
	report.RetryCount = retries

	if !exec.Success {
		report.Success = false
		report.Quality *= failedWorkflowPenalty
		if exec.Err != nil {
			report.Issues = append(report.Issues, exec.Err.Error())
		}
		if missing := plannedCount(exec) - len(exec.Results); missing > 0 {
			report.Issues = append(report.Issues, fmt.Sprintf("%d planned task(s) did not run", missing))
			report.Suggestions = appendUnique(report.Suggestions, "Fix the failing task and run the workflow again")
		}
	}
	if d := exec.Decomposition; d != nil && d.Confidence < s.minConfidence {
		report.Suggestions = appendUnique(report.Suggestions, fmt.Sprintf(
			"The plan was built with low confidence (%.2f), name the target type explicitly to confirm it", d.Confidence))
	}
	if retries > 2 {
		report.Quality *= retryPenalty
	}
	if exec.Success && retries == 0 && time.Duration(exec.TotalTimeMs)*time.Millisecond < s.quickThreshold {
		report.Quality *= quickBonus
	}
	report.Quality = clamp(report.Quality)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Workflow %s: %s in %dms with %d retr%s.\n\n",
		exec.ID, workflowOutcome(exec), exec.TotalTimeMs, retries, plural(retries, "y", "ies"))
	sb.WriteString(report.Content)
	report.Content = sb.String()

	s.logger.Debug().Str("workflow_id", exec.ID).Bool("success", report.Success).
		Float64("quality", report.Quality).Int("correlations", len(report.Correlations)).Msg("Workflow synthesized")
	return report
}

func (s *Synthesizer) build(results []*toolweave.ToolExecutionResult, toolNames []string, request string) *Report {
	report := &Report{Request: request}

	var valid []sourced
	for i, r := range results {
		tool := toolAt(toolNames, i)
		report.ToolNames = append(report.ToolNames, tool)
		switch {
		case r == nil:
			report.Issues = append(report.Issues, fmt.Sprintf("%s returned no result", tool))
			report.Suggestions = appendUnique(report.Suggestions, "Check that the tool is registered and reachable")
		case !r.Success:
			msg := r.Error
			if msg == "" {
				msg = "tool reported failure"
			}
			report.Issues = append(report.Issues, fmt.Sprintf("%s failed: %s", tool, msg))
			report.Suggestions = appendUnique(report.Suggestions, suggestionFor(msg))
		default:
			kept, dropped := wellFormed(r)
			if dropped > 0 {
				report.Issues = append(report.Issues, fmt.Sprintf("%s returned %d malformed item(s)", tool, dropped))
			}
			if kept == nil {
				report.Suggestions = appendUnique(report.Suggestions, "Check that the tool returns content or metadata for every item")
				continue
			}
			valid = append(valid, sourced{tool: tool, result: kept})
		}
	}
	if len(results) == 0 {
		report.Issues = append(report.Issues, "no results to synthesize")
		report.Suggestions = append(report.Suggestions, "Rephrase the request so at least one tool applies")
	}
	if len(valid) == 0 {
		report.Content = renderFailure(request, report.Issues)
		return report
	}

	report.Success = len(report.Issues) == 0
	report.Correlations = correlate(valid)

	var sum float64
	var sb strings.Builder
	if len(valid) > 1 || len(results) > 1 {
		sb.WriteString("## Summary\n")
		if request != "" {
			fmt.Fprintf(&sb, "Request: %s\n", request)
		}
		fmt.Fprintf(&sb, "%d of %d tool(s) succeeded, %d correlation(s) found.\n",
			len(valid), len(results), len(report.Correlations))
	}
	for _, v := range valid {
		sum += score(v.result, request).Overall()
		if len(valid) > 1 || len(results) > 1 {
			fmt.Fprintf(&sb, "\n## %s\n", v.tool)
		}
		if len(v.result.Data) == 0 {
			sb.WriteString("No results.\n")
			continue
		}
		renderItems(&sb, v.tool, v.result.Data)
	}
	renderCorrelations(&sb, report.Correlations)
	if len(report.Issues) > 0 {
		sb.WriteString("\n## Issues\n")
		for _, issue := range report.Issues {
			fmt.Fprintf(&sb, "- %s\n", issue)
		}
	}
	report.Content = sb.String()

	quality := sum / float64(len(valid))
	quality += min(maxCorrelationBonus, correlationBonus*float64(len(report.Correlations)))
	report.Quality = clamp(quality)
	return report
}

// wellFormed drops items that carry neither content nor metadata. It returns
// nil when a result had items and none survived. An empty result is kept.
func wellFormed(r *toolweave.ToolExecutionResult) (*toolweave.ToolExecutionResult, int) {
	if selector.ValidateResult(r).Valid || len(r.Data) == 0 {
		return r, 0
	}
	items := make([]toolweave.Item, 0, len(r.Data))
	for _, item := range r.Data {
		if item.Content == "" && len(item.Metadata) == 0 {
			continue
		}
		items = append(items, item)
	}
	dropped := len(r.Data) - len(items)
	if len(items) == 0 {
		return nil, dropped
	}
	if dropped == 0 {
		return r, 0
	}
	out := *r
	out.Data = items
	return &out, dropped
}

func suggestionFor(msg string) string {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "not found"):
		return "Check the tool name against the registry"
	case strings.Contains(lower, "missing required parameter"), strings.Contains(lower, "invalid parameters"):
		return "Provide the required parameters for the tool"
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return "Retry later or increase the tool timeout"
	case strings.Contains(lower, "cancelled"):
		return "Run the request again without cancelling it"
	default:
		return "Retry the request or narrow its scope"
	}
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func plannedCount(exec *toolweave.WorkflowExecution) int {
	if exec.Decomposition == nil {
		return len(exec.Results)
	}
	return len(exec.Decomposition.Subtasks)
}

func workflowOutcome(exec *toolweave.WorkflowExecution) string {
	switch {
	case exec.Success:
		return "completed"
	case exec.Degraded:
		return "failed after degraded scheduling"
	default:
		return "failed"
	}
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// cacheKey hashes the request, the tool names and every result's contents.
func cacheKey(results []*toolweave.ToolExecutionResult, toolNames []string, request string) string {
	h := sha256.New()
	h.Write([]byte(request))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(toolNames, ",")))
	for _, r := range results {
		h.Write([]byte{0})
		if r == nil {
			h.Write([]byte("nil"))
			continue
		}
		fmt.Fprintf(h, "%t|%s|%s", r.Success, r.Error, r.Metadata.Canonical())
		for _, item := range r.Data {
			h.Write([]byte{1})
			h.Write([]byte(item.Content))
			h.Write([]byte(item.Metadata.Canonical()))
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
