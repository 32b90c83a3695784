package controllers

import (
	"context"
	"errors"
	"fmt"

	json "github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/runloom/runloom/internal/api/response"
)

// requestContext returns the context handlers should thread through to
// the orchestrator. fasthttp does not provide a standard context of its
// own, so this recovers the one withMiddlewares extracted from the
// inbound trace headers and stashed in the request's user values,
// falling back to Background if it's missing (e.g. in tests that call a
// handler directly without going through the middleware chain).
func requestContext(ctx *fasthttp.RequestCtx) context.Context {
	if v, ok := ctx.UserValue("traceCtx").(context.Context); ok {
		return v
	}
	return context.Background()
}

func parseBody(ctx *fasthttp.RequestCtx, target any) error {
	body := ctx.PostBody()
	if len(body) == 0 {
		return errors.New("request body is empty")
	}
	return json.Unmarshal(body, target)
}

func writeError(ctx *fasthttp.RequestCtx, stdCtx context.Context, message string, err error) {
	response.NewResponse[any](stdCtx, message, nil).WithError(err).Write(ctx)
}

func writeOK(ctx *fasthttp.RequestCtx, stdCtx context.Context, message string, data any) {
	response.NewResponse(stdCtx, message, data).Write(ctx)
}

func pathParam(ctx *fasthttp.RequestCtx, key string) (string, error) {
	val := ctx.UserValue(key)
	if val == nil {
		return "", fmt.Errorf("%s is required", key)
	}
	return fmt.Sprint(val), nil
}
