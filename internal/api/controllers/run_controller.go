// Package controllers wires HTTP routes to the orchestrator, grounded
// on the teacher's internal/api/controllers/converse.go and
// durable_converse.go request/response shape. Routing itself is a plain
// path/method switch rather than github.com/fasthttp/router: three
// operations don't warrant a router dependency, and spec_full's domain
// stack explicitly drops it in favor of fasthttp alone.
package controllers

import (
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/runloom/runloom/pkg/agentrun/core"
	"github.com/runloom/runloom/pkg/agentrun/orchestrator"
)

// defaultSignalTTL bounds how long a cancellation flag outlives the run
// it targets, in case the signal arrives before the run is created.
const defaultSignalTTL = 24 * time.Hour

type startRunRequest struct {
	ManifestName string `json:"manifestName"`
	Namespace    string `json:"namespace"`
	Input        string `json:"input"`
}

type resumeRunRequest struct {
	ApprovedCallIDs []string `json:"approvedCallIds"`
	RejectedCallIDs []string `json:"rejectedCallIds"`

	// Message, when set, selects the `reply` input variant (spec §4.7/§6):
	// append a user message to a completed run instead of resolving
	// pending approvals on a suspended one.
	Message *string `json:"message"`
}

type signalCancellationRequest struct {
	TTLSeconds int `json:"ttlSeconds"`
}

type cancelRunRequest struct {
	Recursive *bool  `json:"recursive"`
	Reason    string `json:"reason"`
}

type cancelRunResponse struct {
	Result string `json:"result"`
}

// RunMux dispatches the small, fixed set of run-lifecycle routes:
//
//	POST   /api/runs                                 start a run
//	GET    /api/runs/{runId}                         load a run
//	POST   /api/runs/{runId}/resume                   resume a suspended run
//	POST   /api/runs/{runId}/cancel                    cancel a run (and its sub-agent tree)
//	POST   /api/runs/{runId}/signal-cancellation       set the cancellation flag only
type RunMux struct {
	deps *orchestrator.Deps
}

func NewRunMux(deps *orchestrator.Deps) *RunMux {
	return &RunMux{deps: deps}
}

func (m *RunMux) Handle(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	if path == "/api/runs" && method == fasthttp.MethodPost {
		startRunHandler(m.deps)(ctx)
		return
	}

	rest := strings.TrimPrefix(path, "/api/runs/")
	if rest == path || rest == "" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}

	segments := strings.SplitN(rest, "/", 2)
	runID := segments[0]
	ctx.SetUserValue("runId", runID)

	switch {
	case len(segments) == 1 && method == fasthttp.MethodGet:
		getRunHandler(m.deps)(ctx)
	case len(segments) == 2 && segments[1] == "resume" && method == fasthttp.MethodPost:
		resumeRunHandler(m.deps)(ctx)
	case len(segments) == 2 && segments[1] == "cancel" && method == fasthttp.MethodPost:
		cancelRunHandler(m.deps)(ctx)
	case len(segments) == 2 && segments[1] == "signal-cancellation" && method == fasthttp.MethodPost:
		signalCancellationHandler(m.deps)(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func startRunHandler(deps *orchestrator.Deps) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		var req startRunRequest
		if err := parseBody(ctx, &req); err != nil {
			writeError(ctx, stdCtx, "invalid request body", core.ErrBadRequest("invalid request body", err))
			return
		}
		if req.ManifestName == "" {
			writeError(ctx, stdCtx, "manifestName is required", core.ErrBadRequest("manifestName is required", nil))
			return
		}

		seedMessages := []core.Message{{OfUser: &core.UserMessage{Text: req.Input}}}

		rc, cancel := core.WithCancel(core.ContextWithAbort{Context: stdCtx, Namespace: req.Namespace})
		defer cancel()

		result, err := orchestrator.StartRun(rc, deps, req.ManifestName, seedMessages)
		if err != nil {
			writeError(ctx, stdCtx, "failed to start run", err)
			return
		}

		writeOK(ctx, stdCtx, "run started", result)
	}
}

func getRunHandler(deps *orchestrator.Deps) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		runID, err := pathParam(ctx, "runId")
		if err != nil {
			writeError(ctx, stdCtx, "runId is required", core.ErrBadRequest("runId is required", err))
			return
		}

		run, err := deps.States.Get(stdCtx, runID)
		if err != nil {
			writeError(ctx, stdCtx, "failed to load run", err)
			return
		}

		writeOK(ctx, stdCtx, "run loaded", run)
	}
}

func resumeRunHandler(deps *orchestrator.Deps) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		runID, err := pathParam(ctx, "runId")
		if err != nil {
			writeError(ctx, stdCtx, "runId is required", core.ErrBadRequest("runId is required", err))
			return
		}

		var req resumeRunRequest
		if err := parseBody(ctx, &req); err != nil {
			writeError(ctx, stdCtx, "invalid request body", core.ErrBadRequest("invalid request body", err))
			return
		}

		rc, cancel := core.WithCancel(core.ContextWithAbort{Context: stdCtx, RunID: runID})
		defer cancel()

		if req.Message != nil {
			result, err := orchestrator.ReplyRun(rc, deps, runID, *req.Message)
			if err != nil {
				writeError(ctx, stdCtx, "failed to reply to run", err)
				return
			}
			writeOK(ctx, stdCtx, "run resumed", result)
			return
		}

		result, err := orchestrator.ResumeSuspensionStack(rc, deps, runID, req.ApprovedCallIDs, req.RejectedCallIDs)
		if err != nil {
			writeError(ctx, stdCtx, "failed to resume run", err)
			return
		}

		writeOK(ctx, stdCtx, "run resumed", result)
	}
}

func cancelRunHandler(deps *orchestrator.Deps) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		runID, err := pathParam(ctx, "runId")
		if err != nil {
			writeError(ctx, stdCtx, "runId is required", core.ErrBadRequest("runId is required", err))
			return
		}

		var req cancelRunRequest
		_ = parseBody(ctx, &req)

		opts := orchestrator.DefaultCancelOptions()
		if req.Recursive != nil {
			opts.Recursive = *req.Recursive
		}
		opts.Reason = req.Reason

		result, err := orchestrator.CancelRun(stdCtx, deps, runID, opts)
		if err != nil {
			writeError(ctx, stdCtx, "failed to cancel run", err)
			return
		}

		writeOK(ctx, stdCtx, "run cancellation processed", cancelRunResponse{Result: string(result)})
	}
}

func signalCancellationHandler(deps *orchestrator.Deps) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		stdCtx := requestContext(ctx)

		runID, err := pathParam(ctx, "runId")
		if err != nil {
			writeError(ctx, stdCtx, "runId is required", core.ErrBadRequest("runId is required", err))
			return
		}

		var req signalCancellationRequest
		_ = parseBody(ctx, &req)
		ttl := defaultSignalTTL
		if req.TTLSeconds > 0 {
			ttl = time.Duration(req.TTLSeconds) * time.Second
		}

		if err := orchestrator.SignalCancellation(stdCtx, deps, runID, ttl); err != nil {
			writeError(ctx, stdCtx, "failed to signal cancellation", err)
			return
		}

		writeOK(ctx, stdCtx, "cancellation signalled", nil)
	}
}
