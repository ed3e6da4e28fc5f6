package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/sourcegraph/conc/pool"
)

// Backoff returns the delay before retry n (1-based): 2^n * base.
func Backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		n = 1
	}
	return base * time.Duration(1<<uint(n))
}

// ExecuteTool invokes a tool, retrying transient failures with exponential
// backoff. The returned result is never nil; err is set when the last attempt
// failed with an error rather than an unsuccessful response. Terminal errors
// (unknown tool, invalid parameters, cancellation) are not retried.
func (s *Selector) ExecuteTool(ctx context.Context, toolName string, params toolweave.Params) (*toolweave.ToolExecutionResult, error) {
	start := time.Now()
	fail := func(err error, retries int) (*toolweave.ToolExecutionResult, error) {
		return &toolweave.ToolExecutionResult{
			Success:         false,
			Error:           err.Error(),
			ExecutionTimeMs: time.Since(start).Milliseconds(),
			RetryCount:      retries,
		}, err
	}

	if !s.registry.IsValidTool(toolName) {
		return fail(toolweave.NewToolNotFoundError("execution", toolName), 0)
	}
	if err := s.checkParams(toolName, params); err != nil {
		return fail(err, 0)
	}

	var (
		resp    *toolweave.ToolResponse
		lastErr error
		retries int
	)
	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		if attempt > 0 {
			retries = attempt
			delay := Backoff(s.retryBaseDelay, attempt)
			s.logger.Warn().Str("tool", toolName).Int("retry", attempt).Int("max_retries", s.retryAttempts).
				Dur("delay", delay).AnErr("error", lastErr).Msg("Tool execution failed, retrying")
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fail(toolweave.NewCancelledError("execution", ctx.Err()), retries)
			case <-timer.C:
			}
		}

		resp, lastErr = s.invokeOnce(ctx, toolName, params)
		if lastErr == nil && resp != nil && resp.Success {
			break
		}
		if lastErr == nil {
			msg := "tool reported failure"
			if resp != nil && resp.Error != "" {
				msg = resp.Error
			}
			lastErr = toolweave.NewToolExecutionError("execution", toolName, errors.New(msg))
			continue
		}
		if toolweave.IsTerminal(lastErr) || ctx.Err() != nil {
			break
		}
	}

	elapsed := time.Since(start)
	success := lastErr == nil
	if s.learning {
		s.stats.recordExecution(toolName, success, elapsed)
	}

	if !success {
		s.logger.Error().Str("tool", toolName).Int("retries", retries).Err(lastErr).Msg("Tool execution failed")
		result := &toolweave.ToolExecutionResult{
			Success:         false,
			Error:           lastErr.Error(),
			ExecutionTimeMs: elapsed.Milliseconds(),
			RetryCount:      retries,
		}
		// A final unsuccessful response carries its data; it is still a failure.
		if resp != nil {
			result.Data = resp.Data
			result.Metadata = resp.Metadata
			if resp.Error != "" {
				result.Error = resp.Error
			}
			return result, nil
		}
		return result, lastErr
	}

	s.logger.Debug().Str("tool", toolName).Int("retries", retries).Dur("duration", elapsed).Msg("Tool execution completed")
	return &toolweave.ToolExecutionResult{
		Success:         true,
		Data:            resp.Data,
		Metadata:        resp.Metadata,
		ExecutionTimeMs: elapsed.Milliseconds(),
		RetryCount:      retries,
	}, nil
}

func (s *Selector) invokeOnce(ctx context.Context, toolName string, params toolweave.Params) (*toolweave.ToolResponse, error) {
	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	resp, err := s.invoker.Invoke(callCtx, toolName, params)
	if err == nil {
		return resp, nil
	}
	switch {
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return nil, toolweave.NewCancelledError("execution", err)
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded):
		return nil, toolweave.NewTimeoutError("execution", fmt.Errorf("tool '%s' exceeded %v: %w", toolName, s.timeout, err))
	}
	var twErr *toolweave.Error
	if errors.As(err, &twErr) {
		return nil, err
	}
	return nil, toolweave.NewToolExecutionError("execution", toolName, err)
}

func (s *Selector) checkParams(toolName string, params toolweave.Params) error {
	meta, ok := s.registry.GetMetadata(toolName)
	if !ok {
		return nil
	}
	for _, p := range meta.RequiredParams {
		v, present := params[p]
		if !present || v.IsNull() {
			return toolweave.NewInvalidParamsError("execution", toolName, fmt.Errorf("missing required parameter '%s'", p))
		}
		if v.IsDeferred() {
			return toolweave.NewInvalidParamsError("execution", toolName, fmt.Errorf("parameter '%s' is unresolved", p))
		}
	}
	return nil
}

// ToolCall is one entry of a parallel batch.
type ToolCall struct {
	ToolName   string
	Parameters toolweave.Params
}

// BatchResult aggregates a parallel batch. Results are in submission order.
type BatchResult struct {
	Results       []*toolweave.ToolExecutionResult `json:"results"`
	Errors        []error                          `json:"-"`
	Success       bool                             `json:"success"`
	TotalTimeMs   int64                            `json:"totalTimeMs"`
	AverageTimeMs float64                          `json:"averageTimeMs"`
	// Throughput is completed calls per second of wall time.
	Throughput float64 `json:"throughput"`
}

// ExecuteToolsInParallel runs every call concurrently, bounded by the
// configured parallelism. A failing call never cancels its siblings.
func (s *Selector) ExecuteToolsInParallel(ctx context.Context, calls []ToolCall) *BatchResult {
	start := time.Now()
	batch := &BatchResult{
		Results: make([]*toolweave.ToolExecutionResult, len(calls)),
		Errors:  make([]error, len(calls)),
		Success: true,
	}
	if len(calls) == 0 {
		return batch
	}

	p := pool.New().WithMaxGoroutines(s.maxParallel)
	for i, call := range calls {
		p.Go(func() {
			batch.Results[i], batch.Errors[i] = s.ExecuteTool(ctx, call.ToolName, call.Parameters)
		})
	}
	p.Wait()

	var sum int64
	for _, r := range batch.Results {
		sum += r.ExecutionTimeMs
		if !r.Success {
			batch.Success = false
		}
	}
	elapsed := time.Since(start)
	batch.TotalTimeMs = elapsed.Milliseconds()
	batch.AverageTimeMs = float64(sum) / float64(len(calls))
	if secs := elapsed.Seconds(); secs > 0 {
		batch.Throughput = float64(len(calls)) / secs
	}

	s.logger.Debug().Int("calls", len(calls)).Bool("success", batch.Success).
		Int64("total_ms", batch.TotalTimeMs).Float64("throughput", batch.Throughput).Msg("Parallel batch completed")
	return batch
}
