package api

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel/propagation"

	"github.com/runloom/runloom/internal/api/controllers"
)

var tracePropagator = propagation.TraceContext{}

// initRoutes builds a minimal hand-registered mux over spec's three
// operations (orchestrateRun, cancelRun, signalCancellation) plus a
// resume/get pair for the human-in-the-loop and polling paths. A full
// router dependency buys nothing for a handful of routes, so dispatch
// is a plain path/method switch, mirroring the teacher's health-check
// registration style without adopting its router package.
func (s *Server) initRoutes() fasthttp.RequestHandler {
	mux := controllers.NewRunMux(s.deps)

	return s.withMiddlewares(func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == "/api/health" {
			ctx.SetStatusCode(fasthttp.StatusOK)
			_, _ = ctx.Write([]byte("OK"))
			return
		}
		mux.Handle(ctx)
	})
}

func (s *Server) withMiddlewares(next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		applyCORS(ctx)
		if string(ctx.Method()) == fasthttp.MethodOptions {
			ctx.SetStatusCode(fasthttp.StatusNoContent)
			return
		}

		start := time.Now()
		requestURI := string(ctx.URI().FullURI())
		slog.Info("started processing", slog.String("method", string(ctx.Method())), slog.String("request_uri", requestURI))

		h := http.Header{}
		ctx.Request.Header.VisitAll(func(k, v []byte) {
			h[string(k)] = []string{string(v)}
		})
		traceCtx := tracePropagator.Extract(ctx, propagation.HeaderCarrier(h))
		ctx.SetUserValue("traceCtx", traceCtx)

		next(ctx)

		slog.Info("finished processing", slog.String("method", string(ctx.Method())), slog.String("request_uri", requestURI), slog.Duration("duration", time.Since(start)))
	}
}

func applyCORS(ctx *fasthttp.RequestCtx) {
	headers := &ctx.Response.Header
	headers.Set("Access-Control-Allow-Origin", string(ctx.Request.Header.Peek("Origin")))
	headers.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS,PATCH")
	headers.Set("Access-Control-Allow-Headers", os.Getenv("ALLOWED_HEADERS"))
	headers.Set("Access-Control-Allow-Credentials", "true")
}
