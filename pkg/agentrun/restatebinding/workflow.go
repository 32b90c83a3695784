package restatebinding

import (
	restate "github.com/restatedev/sdk-go"

	"github.com/runloom/runloom/pkg/agentrun/core"
	"github.com/runloom/runloom/pkg/agentrun/orchestrator"
)

// RunWorkflowInput is the payload a Restate ingress call sends to
// RunWorkflow.Run, mirroring internal/api's startRunRequest.
type RunWorkflowInput struct {
	ManifestName string `json:"manifestName"`
	Namespace    string `json:"namespace"`
	Input        string `json:"input"`
}

// RunWorkflow is a Restate virtual object binding the orchestrator,
// grounded on the teacher's restate_runtime.AgentWorkflow:
// restate.Reflect(RunWorkflow{Deps: deps}) registers Run as a durable
// handler that wraps the whole StartRun in one journaled restate.Run step
// (WrapOrchestration); the run's individual steps are not journaled
// separately.
type RunWorkflow struct {
	Deps *orchestrator.Deps
}

func NewRunWorkflow(deps *orchestrator.Deps) RunWorkflow {
	return RunWorkflow{Deps: deps}
}

func (w RunWorkflow) Run(ctx restate.WorkflowContext, input *RunWorkflowInput) (*core.RunRecord, error) {
	executor := NewExecutor(ctx)
	runID := RunID(ctx)

	rc := core.ContextWithAbort{Context: ctx, RunID: runID, Namespace: input.Namespace}

	return WrapOrchestration(ctx, executor, input, func(_ interface{}, in *RunWorkflowInput, _ core.DurableExecutor) (*core.RunRecord, error) {
		seedMessages := []core.Message{{OfUser: &core.UserMessage{Text: in.Input}}}
		return orchestrator.StartRun(rc, w.Deps, in.ManifestName, seedMessages)
	})
}
