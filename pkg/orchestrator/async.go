package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/synthesis"
)

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string        `json:"execution_id"`
	Request      string        `json:"request"`
	CurrentState ProcessState  `json:"current_state"`
	StartTime    time.Time     `json:"start_time"`
	Duration     time.Duration `json:"duration"`
	IsComplete   bool          `json:"is_complete"`
	HasError     bool          `json:"has_error"`
	ErrorMessage string        `json:"error_message,omitempty"`
	ErrorStage   string        `json:"error_stage,omitempty"`
}

// ProcessAsync starts request in the background and returns its execution ID.
// The run is detached from ctx's cancellation but keeps its values.
func (o *Orchestrator) ProcessAsync(ctx context.Context, request string) (string, error) {
	if o.closed.Load() {
		return "", toolweave.NewError(toolweave.ErrCodeCancelled, "async", "orchestrator is closed", nil)
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	id := uuid.NewString()
	pCtx := NewProcessContext(request)
	pCtx.cancel = cancel

	o.asyncExecutionsMutex.Lock()
	o.asyncExecutions[id] = pCtx
	o.asyncExecutionsMutex.Unlock()

	o.asyncWG.Add(1)
	go func() {
		defer o.asyncWG.Done()
		defer cancel()
		_, _ = o.run(runCtx, id, pCtx)
	}()

	o.logger.Debug().Str("execution_id", id).Str("request", request).Msg("Started async execution")
	return id, nil
}

func (o *Orchestrator) lookupAsync(executionID string) (*ProcessContext, error) {
	o.asyncExecutionsMutex.RLock()
	defer o.asyncExecutionsMutex.RUnlock()
	pCtx, exists := o.asyncExecutions[executionID]
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}
	return pCtx, nil
}

// AsyncStatus retrieves the current status of an async execution.
func (o *Orchestrator) AsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	pCtx, err := o.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}

	pCtx.mu.RLock()
	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		Request:      pCtx.Request,
		CurrentState: pCtx.CurrentState,
		StartTime:    pCtx.StartTime,
		IsComplete:   pCtx.CurrentState == StateComplete,
		HasError:     pCtx.CurrentState == StateError || pCtx.CurrentState == StateCancelled,
	}
	if pCtx.LastError != nil {
		status.ErrorMessage = pCtx.LastError.Error()
		status.ErrorStage = pCtx.ErrorStage
	}
	pCtx.mu.RUnlock()

	status.Duration = pCtx.GetTotalDuration()
	return status, nil
}

// AsyncResult returns the report of a finished async execution. It fails
// while the run is in progress or when it ended in error or cancellation.
func (o *Orchestrator) AsyncResult(executionID string) (*synthesis.Report, error) {
	pCtx, err := o.lookupAsync(executionID)
	if err != nil {
		return nil, err
	}

	pCtx.mu.RLock()
	defer pCtx.mu.RUnlock()
	switch pCtx.CurrentState {
	case StateComplete:
		return pCtx.Report, nil
	case StateError, StateCancelled:
		return nil, fmt.Errorf("execution failed during stage '%s': %w", pCtx.ErrorStage, pCtx.LastError)
	default:
		return nil, fmt.Errorf("execution is still in progress (current state: %s)", pCtx.CurrentState)
	}
}

// CancelAsync cancels an ongoing async execution. It returns false when the
// run had already finished.
func (o *Orchestrator) CancelAsync(executionID string) (bool, error) {
	pCtx, err := o.lookupAsync(executionID)
	if err != nil {
		return false, err
	}

	stage := string(pCtx.State())
	if !pCtx.SetCancelled(toolweave.NewCancelledError(stage, context.Canceled), stage) {
		return false, nil
	}
	// The run publishes the cancellation event once its goroutine returns.
	if pCtx.cancel != nil {
		pCtx.cancel()
	}
	return true, nil
}

// ListAsync returns every known execution ID with its current state.
func (o *Orchestrator) ListAsync() map[string]ProcessState {
	o.asyncExecutionsMutex.RLock()
	defer o.asyncExecutionsMutex.RUnlock()

	result := make(map[string]ProcessState, len(o.asyncExecutions))
	for id, pCtx := range o.asyncExecutions {
		result[id] = pCtx.State()
	}
	return result
}

// CleanupCompleted removes finished executions that ended more than olderThan
// ago and returns how many were removed.
func (o *Orchestrator) CleanupCompleted(olderThan time.Duration) int {
	o.asyncExecutionsMutex.Lock()
	defer o.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, pCtx := range o.asyncExecutions {
		pCtx.mu.RLock()
		done := pCtx.isTerminal() && now.Sub(pCtx.EndTime) > olderThan
		pCtx.mu.RUnlock()
		if done {
			delete(o.asyncExecutions, id)
			count++
		}
	}
	return count
}
