package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Config holds the API server settings.
type Config struct {
	ListenAddress   string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// LongPollMaxWait caps the wait of one status long-poll request.
	LongPollMaxWait time.Duration
}

// Server is the HTTP front of the orchestration engine.
type Server struct {
	cfg      Config
	engine   *orchestrator.Engine
	router   *mux.Router
	validate *validator.Validate
	log      *telemetry.Logger
	metrics  *telemetry.Metrics
	http     *http.Server
}

// NewServer wires the routes and middleware.
func NewServer(cfg Config, engine *orchestrator.Engine, log *telemetry.Logger, metrics *telemetry.Metrics) *Server {
	if cfg.LongPollMaxWait <= 0 {
		cfg.LongPollMaxWait = 60 * time.Second
	}
	if log == nil {
		log = telemetry.NopLogger()
	}

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		router:   mux.NewRouter(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.NewComponentLogger("api"),
		metrics:  metrics,
	}
	s.routes()

	return s
}

func (s *Server) routes() {
	s.router.Use(loggingMiddleware(s.log))

	// The webhook and health endpoints are machine-to-machine and carry
	// no gateway identity.
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/webhook/tofu/{scenario}/{serviceId}", s.handleCallback).Methods(http.MethodPost)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Use(identityMiddleware)

	// Lifecycle
	v1.HandleFunc("/services/deploy", s.handleDeploy).Methods(http.MethodPost)
	v1.HandleFunc("/services/modify/{serviceId}", s.handleModify).Methods(http.MethodPut)
	v1.HandleFunc("/services/destroy/{serviceId}", s.handleDestroy).Methods(http.MethodDelete)
	v1.HandleFunc("/services/purge/{serviceId}", s.handlePurge).Methods(http.MethodDelete)
	v1.HandleFunc("/services/lock/{serviceId}", s.handleSetLocks).Methods(http.MethodPut)

	// Composite workflows
	v1.HandleFunc("/services/migration", s.handleMigrate).Methods(http.MethodPost)
	v1.HandleFunc("/services/porting", s.handlePort).Methods(http.MethodPost)
	v1.HandleFunc("/services/recreate/{serviceId}", s.handleRecreate).Methods(http.MethodPost)
	v1.HandleFunc("/workflows/{workflowId}", s.handleGetWorkflow).Methods(http.MethodGet)
	v1.HandleFunc("/workflows/{workflowId}/orders", s.handleWorkflowOrders).Methods(http.MethodGet)

	// Runtime power state
	v1.HandleFunc("/services/start/{serviceId}", s.handleStart).Methods(http.MethodPost)
	v1.HandleFunc("/services/stop/{serviceId}", s.handleStop).Methods(http.MethodPost)
	v1.HandleFunc("/services/restart/{serviceId}", s.handleRestart).Methods(http.MethodPost)

	// Configuration
	v1.HandleFunc("/services/config/{serviceId}", s.handleConfigure).Methods(http.MethodPut)
	v1.HandleFunc("/services/config/requests/{orderId}", s.handleListConfigRequests).Methods(http.MethodGet)
	v1.HandleFunc("/services/config/requests/{orderId}/{requestId}", s.handleConfigResult).Methods(http.MethodPut)

	// Queries
	v1.HandleFunc("/services", s.handleListServices).Methods(http.MethodGet)
	v1.HandleFunc("/services/{serviceId}", s.handleGetService).Methods(http.MethodGet)
	v1.HandleFunc("/services/{serviceId}/deployment/status", s.handleStatusPoll).Methods(http.MethodGet)
	v1.HandleFunc("/services/{serviceId}/orders", s.handleListOrders).Methods(http.MethodGet)
	v1.HandleFunc("/services/{serviceId}/orders", s.handleDeleteOrders).Methods(http.MethodDelete)
	v1.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{orderId}", s.handleDeleteOrder).Methods(http.MethodDelete)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until the listener fails.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		// Long polls block inside the handler; the write timeout has to
		// outlast the poll budget.
		WriteTimeout: s.cfg.WriteTimeout,
	}
	s.log.WithField("address", s.cfg.ListenAddress).Info("api server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}
