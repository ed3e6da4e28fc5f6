package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/synthesis"
)

// ProcessState is a stage of the request pipeline.
type ProcessState string

const (
	StateInit          ProcessState = "init"
	StateDecomposition ProcessState = "decomposition"
	StateExecution     ProcessState = "execution"
	StateSynthesis     ProcessState = "synthesis"
	StateError         ProcessState = "error"
	StateComplete      ProcessState = "complete"
	StateCancelled     ProcessState = "cancelled"
	// StateUnknown is reported for executions that cannot be found.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext is the state carried through one pipeline run. It is safe
// for concurrent readers while the run is in progress.
type ProcessContext struct {
	mu sync.RWMutex

	Request       string
	Decomposition *toolweave.TaskDecomposition
	Execution     *toolweave.WorkflowExecution
	Report        *synthesis.Report

	LastError  error
	ErrorStage string

	CurrentState ProcessState
	// History holds every state left so far, oldest first.
	History []ProcessState

	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time

	cancel context.CancelFunc
}

// NewProcessContext creates a context for request.
func NewProcessContext(request string) *ProcessContext {
	now := time.Now()
	return &ProcessContext{
		Request:         request,
		CurrentState:    StateInit,
		StartTime:       now,
		StateStartTimes: map[ProcessState]time.Time{StateInit: now},
	}
}

// State returns the current state.
func (pc *ProcessContext) State() ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.CurrentState
}

func (pc *ProcessContext) moveTo(state ProcessState) {
	pc.History = append(pc.History, pc.CurrentState)
	pc.CurrentState = state
	now := time.Now()
	pc.StateStartTimes[state] = now
	if pc.isTerminal() {
		pc.EndTime = now
	}
}

// PushState records the current state in the history and enters state.
// Finished runs are left untouched.
func (pc *ProcessContext) PushState(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.isTerminal() {
		pc.moveTo(state)
	}
}

func (pc *ProcessContext) isTerminal() bool {
	return pc.CurrentState == StateComplete || pc.CurrentState == StateError || pc.CurrentState == StateCancelled
}

// IsTerminal reports whether the run has finished.
func (pc *ProcessContext) IsTerminal() bool {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.isTerminal()
}

// SetError records err and moves to StateError unless the run already
// finished.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.isTerminal() {
		return
	}
	pc.LastError = err
	pc.ErrorStage = stage
	pc.moveTo(StateError)
}

// SetCancelled records the cancellation cause and moves to StateCancelled.
// A run that already finished is left untouched.
func (pc *ProcessContext) SetCancelled(err error, stage string) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.isTerminal() {
		return false
	}
	pc.LastError = err
	pc.ErrorStage = stage
	pc.moveTo(StateCancelled)
	return true
}

// Complete marks the run as finished.
func (pc *ProcessContext) Complete() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.isTerminal() {
		pc.moveTo(StateComplete)
	}
}

// GetStateDuration returns the time spent in state, or zero if it was never
// entered.
func (pc *ProcessContext) GetStateDuration(state ProcessState) time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()

	start, ok := pc.StateStartTimes[state]
	if !ok {
		return 0
	}
	if state == pc.CurrentState {
		if pc.isTerminal() {
			return 0
		}
		return time.Since(start)
	}
	// The state ended when the next one in the history began.
	for i, s := range pc.History {
		if s != state {
			continue
		}
		next := pc.CurrentState
		if i+1 < len(pc.History) {
			next = pc.History[i+1]
		}
		if end, ok := pc.StateStartTimes[next]; ok && end.After(start) {
			return end.Sub(start)
		}
	}
	return 0
}

// GetTotalDuration returns the run time so far, or the full run time once
// finished.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if pc.isTerminal() && !pc.EndTime.IsZero() {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// Result returns the report and the error that ended the run, if any.
func (pc *ProcessContext) Result() (*synthesis.Report, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.Report, pc.LastError
}

// update applies fn under the write lock.
func (pc *ProcessContext) update(fn func(pc *ProcessContext)) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	fn(pc)
}

// StateTransition runs one state and returns the next.
type StateTransition func(ctx context.Context, pCtx *ProcessContext) (ProcessState, error)

// StateMachine drives a ProcessContext through registered transitions.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{transitions: make(map[ProcessState]StateTransition)}
}

// RegisterTransition registers the transition run in state.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		toolweave.CodeOf(err) == toolweave.ErrCodeCancelled
}

// Execute runs until a terminal state and returns the report and the error
// that ended the run, if any.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*synthesis.Report, error) {
	for !pCtx.IsTerminal() {
		if err := ctx.Err(); err != nil {
			pCtx.SetCancelled(toolweave.NewCancelledError(string(pCtx.State()), err), string(pCtx.State()))
			break
		}

		stage := pCtx.State()
		transition, exists := sm.transitions[stage]
		if !exists {
			pCtx.SetError(toolweave.NewInternalError(string(stage), fmt.Sprintf("no transition defined for state: %s", stage), nil), string(stage))
			break
		}

		next, err := transition(ctx, pCtx)
		if err != nil {
			if pCtx.IsTerminal() {
				continue
			}
			if isCancellation(err) {
				pCtx.SetCancelled(err, string(stage))
			} else {
				pCtx.SetError(err, string(stage))
			}
			continue
		}

		switch next {
		case StateComplete:
			pCtx.Complete()
		case stage:
			pCtx.SetError(toolweave.NewInternalError(string(stage), fmt.Sprintf("state %s did not advance", stage), nil), string(stage))
		default:
			pCtx.PushState(next)
		}
	}

	return pCtx.Result()
}
