// Package api is the HTTP surface over the orchestrator: spec's three
// operations (orchestrateRun, cancelRun, signalCancellation) plus a
// resume/get pair, adapted from the teacher's internal/api/api.go
// Server shape but stripped of the gateway/auth/multi-tenant surface
// that belongs to a different product than this orchestration core.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"

	"github.com/runloom/runloom/internal/config"
	"github.com/runloom/runloom/pkg/agentrun/core"
	"github.com/runloom/runloom/pkg/agentrun/orchestrator"
	"github.com/runloom/runloom/pkg/agentrun/store"
	"github.com/runloom/runloom/pkg/agentrun/streambroker"
)

// Server hosts the orchestrator behind fasthttp. Manifests and the
// LLMClient are the two collaborators this core cannot supply on its
// own (they are the embedding application's domain); a caller fills
// them in via Deps().Manifests / Deps().LLM after New, before Start.
type Server struct {
	conf *config.Config
	srv  *fasthttp.Server
	addr string

	rdb  *redis.Client
	db   *sqlx.DB
	deps *orchestrator.Deps
}

// New wires the infra-level collaborators (Redis-backed state/signal/
// lock, a Postgres pool, the stream-broker observer) into an
// orchestrator.Deps, grounded on the teacher's Server construction in
// internal/api/api.go.
func New(conf *config.Config, db *sqlx.DB) *Server {
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", conf.REDIS_HOST, conf.REDIS_PORT),
		Username: conf.REDIS_USERNAME,
		Password: conf.REDIS_PASSWORD,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		slog.Error("failed to connect to redis", slog.Any("error", err))
	}

	broker := streambroker.NewBroker(rdb)
	observers := core.NewObserverChain(broker)

	deps := &orchestrator.Deps{
		States:                   store.NewRedisStateStore(rdb),
		Signals:                  store.NewRedisSignalStore(rdb),
		Locks:                    store.NewRedisLock(rdb),
		Manifests:                core.ManifestMap{},
		Observers:                observers,
		LockTTL:                  conf.RunLockTTL(),
		CancellationPollInterval: conf.CancellationPollInterval(),
		StateTTL:                 conf.AgentStateTTL(),
		RunTimeout:               conf.RunTimeout(),
	}

	return &Server{
		conf: conf,
		srv:  &fasthttp.Server{},
		addr: "0.0.0.0:6060",
		rdb:  rdb,
		db:   db,
		deps: deps,
	}
}

// Deps exposes the orchestrator dependencies so an embedding
// application can register its manifests and LLM client before Start.
func (s *Server) Deps() *orchestrator.Deps { return s.deps }

// DB exposes the Postgres pool passed to New, so an embedding
// application can wire up a history.PostgresChatHistory (or its own
// manifest-specific persistence) without this package needing an
// opinion on chat-history policy.
func (s *Server) DB() *sqlx.DB { return s.db }

func (s *Server) Start() {
	s.srv.Handler = s.initRoutes()

	slog.Info("starting REST server")
	go func() {
		if err := s.srv.ListenAndServe(s.addr); err != nil {
			slog.Error("server shutdown", slog.Any("error", err))
		}
	}()
	slog.Info("REST server started")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	slog.Info("received interrupt")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	s.shutdown(ctx)
}

func (s *Server) shutdown(ctx context.Context) {
	slog.Info("gracefully shutting down REST server")
	if err := s.srv.Shutdown(); err != nil {
		slog.Error("failed to shutdown the server", slog.Any("error", err))
	}
	if err := s.rdb.Close(); err != nil {
		slog.Error("failed to close redis client", slog.Any("error", err))
	}
	if err := s.db.Close(); err != nil {
		slog.Error("failed to close database connection", slog.Any("error", err))
	}
	slog.Info("REST server shutdown")
}
