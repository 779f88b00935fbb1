// Package runtime is the composition root spec §9 calls for: it builds
// a fully-wired registry.Registry from a config.Config, selecting the
// required services' concrete backends and registering every optional
// service the examples pack contributes a default implementation for.
// Grounded on the teacher's cmd/orchestrator/container/container.go
// bottom-up construction (repositories built before the services that
// depend on them, everything threaded through one struct rather than
// package-level globals).
package runtime

import (
	"context"
	"fmt"

	"github.com/dipeo/dipeo-core/internal/apiinvoker"
	"github.com/dipeo/dipeo-core/internal/apikey"
	"github.com/dipeo/dipeo-core/internal/compiler"
	"github.com/dipeo/dipeo-core/internal/config"
	"github.com/dipeo/dipeo-core/internal/diagram"
	"github.com/dipeo/dipeo-core/internal/engine"
	"github.com/dipeo/dipeo-core/internal/eventbus"
	"github.com/dipeo/dipeo-core/internal/fsadapter"
	"github.com/dipeo/dipeo-core/internal/handler"
	"github.com/dipeo/dipeo-core/internal/handler/builtin"
	"github.com/dipeo/dipeo-core/internal/llm"
	"github.com/dipeo/dipeo-core/internal/logging"
	"github.com/dipeo/dipeo-core/internal/observer"
	"github.com/dipeo/dipeo-core/internal/registry"
	"github.com/dipeo/dipeo-core/internal/router"
	"github.com/dipeo/dipeo-core/internal/state"
	"github.com/dipeo/dipeo-core/internal/state/memstate"
	"github.com/dipeo/dipeo-core/internal/state/pgstate"
	"github.com/dipeo/dipeo-core/internal/state/redisstate"
	"github.com/dipeo/dipeo-core/internal/template"
)

// Runtime bundles every wired-up component one process (dipeod or
// dipeoctl running in embedded mode) needs to compile and execute
// diagrams. Close releases the state backend's connections, if any.
type Runtime struct {
	Config   *config.Config
	Log      *logging.Logger
	Registry *registry.Registry
	Bus      *eventbus.Bus
	State    *state.Service
	Router   *router.Router
	Engine   *engine.Engine
	Aborts   *engine.AbortRegistry

	stateObserver *observer.StateStoreObserver
	streamObs     *observer.StreamingObserver
	pgDB          *pgstate.DB
}

// DiagramLoader resolves a diagram id to its compiled form; dipeod
// supplies one backed by its diagram store, dipeoctl by whatever single
// file it was pointed at.
type DiagramLoader = engine.DiagramLoader

// Options customizes construction beyond what cfg alone determines.
type Options struct {
	// DiagramLoader backs sub_diagram dispatch (spec §4.8). Optional;
	// a Runtime with no loader fails any sub_diagram node at dispatch.
	DiagramLoader DiagramLoader
	// APIKeys seeds the optional API_KEY_SERVICE from whatever diagrams
	// this process has loaded. Keys are global across all diagrams
	// sharing this Runtime (spec §4.10: the service registry is
	// read-only for the lifetime of a running process), so a process
	// that serves diagrams from different credential sets needs one
	// Runtime per credential set.
	APIKeys map[string]string
}

// New builds a Runtime from cfg: the required services (state, event
// bus, handler registry, router, engine) are always constructed; the
// optional services (LLM, API invoker, template processor, filesystem
// adapter, API key lookup) are registered with their concrete default
// implementation wherever the examples pack supplies one, per spec
// §4.10's "a runtime may substitute an alternate implementation by
// registering a different instance under the same key."
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	log := logging.New(cfg.Service.LogLevel, cfg.Service.LogFormat)
	reg := registry.New()

	bus := eventbus.New(log, eventbus.WithQueueDepth(cfg.Execution.SubscriberQueueDepth))
	registry.Register(reg, eventbus.BusKey, bus)

	rt := &Runtime{Config: cfg, Log: log, Registry: reg, Bus: bus}

	cache, repo, db, err := newStateBackend(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("runtime: build state backend: %w", err)
	}
	rt.pgDB = db

	stateSvc := state.NewService(cache, repo, log)
	registry.Register(reg, state.ServiceKey, stateSvc)
	registry.Register(reg, state.RepositoryKey, repo)
	rt.State = stateSvc

	handlers := handler.NewRegistry()
	builtin.RegisterAll(handlers)
	registry.Register(reg, handler.Key, handlers)

	fsAdapter := fsadapter.NewLocal(".")
	registry.Register(reg, fsadapter.Key, fsAdapter)

	llmSvc := llm.NewHTTPService(cfg.Execution.DefaultNodeTimeout)
	registry.Register(reg, llm.Key, llm.Service(llmSvc))

	invoker := apiinvoker.NewHTTPInvoker(cfg.Execution.DefaultNodeTimeout)
	registry.Register(reg, apiinvoker.Key, apiinvoker.Invoker(invoker))

	processor := template.NewGoTemplateProcessor()
	registry.Register(reg, template.Key, template.Processor(processor))

	keySvc := apikey.NewStaticService(opts.APIKeys)
	registry.Register(reg, apikey.Key, apikey.Service(keySvc))

	r := router.New(bus, log)
	registry.Register(reg, router.Key, r)
	rt.Router = r

	aborts := engine.NewAbortRegistry()
	eng, err := engine.New(reg, log, engine.Options{
		MaxConcurrent:    cfg.Execution.MaxConcurrent,
		MaxIterations:    cfg.Execution.MaxIterations,
		NodeTimeout:      cfg.Execution.DefaultNodeTimeout,
		ExecutionTimeout: cfg.Execution.DefaultExecTimeout,
		DiagramLoader:    opts.DiagramLoader,
		Aborts:           aborts,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: build engine: %w", err)
	}
	rt.Engine = eng
	rt.Aborts = aborts

	rt.stateObserver = observer.NewStateStoreObserver(stateSvc, log)
	rt.streamObs = observer.NewStreamingObserver(r)
	rt.streamObs.Start(ctx)

	return rt, nil
}

// newStateBackend picks the ExecutionCache and StateRepository
// implementations named by cfg.Cache.Backend: "memory" keeps both
// in-process (single-process dev/test runs), "redis" uses a Redis-
// backed cache fronting the durable Postgres repository (spec §4.5's
// hot/cold split), matching the teacher's dev-vs-prod backend swap in
// cmd/orchestrator/container/container.go.
func newStateBackend(ctx context.Context, cfg *config.Config, log *logging.Logger) (state.ExecutionCache, state.StateRepository, *pgstate.DB, error) {
	switch cfg.Cache.Backend {
	case "redis":
		client := redisstate.New(cfg.Cache.RedisAddr, log)
		if err := client.Ping(ctx); err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cache := redisstate.NewCache(client, cfg.Cache.DefaultTTL)

		db, err := pgstate.New(ctx, cfg, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		repo := pgstate.NewRepository(db)
		return cache, repo, db, nil
	default:
		cache := memstate.NewCache(cfg.Cache.MaxEntries)
		repo := memstate.NewRepository()
		return cache, repo, nil, nil
	}
}

// StartObservers begins the StateStoreObserver's bus subscription. The
// StreamingObserver is not started here; New already starts it for
// every Runtime.
func (rt *Runtime) StartObservers() {
	rt.stateObserver.Start(rt.Bus)
}

// Close releases backend connections. Safe to call even when every
// backend is in-memory.
func (rt *Runtime) Close() error {
	rt.stateObserver.Stop()
	rt.streamObs.Stop()
	if rt.pgDB != nil {
		rt.pgDB.Close()
	}
	return nil
}

// CompileAndRun compiles d and runs it to completion with initialInput,
// the single-shot path dipeoctl's run command uses (spec §6.4).
func (rt *Runtime) CompileAndRun(ctx context.Context, d *diagram.DomainDiagram, executionID diagram.ExecutionID, initialInput map[string]any) (*state.ExecutionState, error) {
	compiled, err := compiler.Compile(d, compiler.Options{})
	if err != nil {
		return nil, fmt.Errorf("runtime: compile diagram: %w", err)
	}
	return rt.Engine.Run(ctx, compiled, executionID, initialInput)
}
