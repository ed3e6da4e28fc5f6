package orchestrator

import (
	"context"
	"strings"

	"github.com/ZanzyTHEbar/toolweave"
	"github.com/ZanzyTHEbar/toolweave/internal/eventbus"
)

// WithEventBus publishes pipeline events on bus. The caller keeps ownership
// and closes it.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(o *Orchestrator) {
		o.eventBus = bus
	}
}

// createStateMachine builds the request pipeline:
// init -> decomposition -> execution -> synthesis -> complete.
func (o *Orchestrator) createStateMachine() *StateMachine {
	sm := NewStateMachine()
	sm.RegisterTransition(StateInit, o.initTransition)
	sm.RegisterTransition(StateDecomposition, o.decompositionTransition)
	sm.RegisterTransition(StateExecution, o.executionTransition)
	sm.RegisterTransition(StateSynthesis, o.synthesisTransition)
	return sm
}

func (o *Orchestrator) initTransition(ctx context.Context, pCtx *ProcessContext) (ProcessState, error) {
	if strings.TrimSpace(pCtx.Request) == "" {
		return StateError, toolweave.NewDecompositionError("request is empty", nil)
	}
	o.publish(ctx, eventbus.EventRequestStarted, pCtx.Request, nil)
	o.logger.Debug().Str("request", pCtx.Request).Msg("Processing request")
	return StateDecomposition, nil
}

func (o *Orchestrator) decompositionTransition(ctx context.Context, pCtx *ProcessContext) (ProcessState, error) {
	d, err := o.Decompose(ctx, pCtx.Request)
	if err != nil {
		return StateError, err
	}
	pCtx.update(func(pc *ProcessContext) { pc.Decomposition = d })
	return StateExecution, nil
}

// executionTransition moves on to synthesis whenever the workflow produced an
// execution, failed or not, so the caller gets a report explaining the
// failure. Only cancellation and malformed decompositions end the run here.
func (o *Orchestrator) executionTransition(ctx context.Context, pCtx *ProcessContext) (ProcessState, error) {
	var d *toolweave.TaskDecomposition
	pCtx.update(func(pc *ProcessContext) { d = pc.Decomposition })

	exec, err := o.Execute(ctx, d)
	if exec != nil {
		pCtx.update(func(pc *ProcessContext) { pc.Execution = exec })
	}
	if exec == nil || (err != nil && isCancellation(err)) {
		return StateError, err
	}
	return StateSynthesis, nil
}

func (o *Orchestrator) synthesisTransition(ctx context.Context, pCtx *ProcessContext) (ProcessState, error) {
	var exec *toolweave.WorkflowExecution
	pCtx.update(func(pc *ProcessContext) { exec = pc.Execution })

	report := o.SynthesizeWorkflow(exec)
	pCtx.update(func(pc *ProcessContext) { pc.Report = report })
	return StateComplete, nil
}
