package orchestrator

import (
	"time"

	"github.com/openstratus/stratus/pkg/telemetry"
)

// Engine wires the orchestration components over one store and one
// provider registry. All mutating entry points share the same admission
// and ledger path.
type Engine struct {
	store    Store
	registry ProviderRegistry

	log     *telemetry.Logger
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
	events  *telemetry.EventPublisher

	runner *Runner

	// pollInterval is the re-check cadence of the long-poll notifier.
	pollInterval time.Duration

	// callbackBase is the externally reachable URL prefix handed to the
	// executor for webhook callbacks.
	callbackBase string
}

// EngineConfig carries the collaborators and tuning of an Engine.
type EngineConfig struct {
	// Store is the transactionally consistent persistence layer.
	Store Store

	// Registry is the explicit csp->plugin table built at startup.
	Registry ProviderRegistry

	// Logger receives structured engine logs.
	Logger *telemetry.Logger

	// Metrics receives engine counters and histograms. Optional.
	Metrics *telemetry.Metrics

	// Tracer creates spans around admission, callbacks and provider
	// calls. Optional.
	Tracer *telemetry.Tracer

	// Events receives lifecycle events. Optional.
	Events *telemetry.EventPublisher

	// Workers bounds the power-state worker pool. Defaults to 10.
	Workers int

	// PollInterval is the long-poll re-check cadence. Defaults to 1s.
	PollInterval time.Duration

	// CallbackBaseURL is the webhook URL prefix handed to the executor.
	CallbackBaseURL string
}

// NewEngine creates an orchestration engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = telemetry.NopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, "stratus", "dev", "test")
	}
	events := cfg.Events
	if events == nil {
		events, _ = telemetry.NewEventPublisher(telemetry.EventsConfig{})
	}

	return &Engine{
		store:        cfg.Store,
		registry:     cfg.Registry,
		log:          log.NewComponentLogger("orchestrator"),
		metrics:      metrics,
		tracer:       tracer,
		events:       events,
		runner:       NewRunner(cfg.Workers),
		pollInterval: cfg.PollInterval,
		callbackBase: cfg.CallbackBaseURL,
	}
}

// Store exposes the ledger for read-only API queries.
func (e *Engine) Store() Store {
	return e.store
}

// Shutdown drains the worker pool.
func (e *Engine) Shutdown() {
	e.runner.Shutdown()
}
