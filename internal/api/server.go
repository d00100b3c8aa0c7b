// Package api implements component L: the operator-facing HTTP surface,
// wiring session auth, tiered rate limiting, CORS, and the sandbox/TEE/
// secrets/billing-adjacent endpoints onto a gorilla/mux router.
package api

import (
	"time"

	"github.com/gorilla/mux"

	"github.com/tangle-network/sandbox-controlplane/internal/batch"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/dockerruntime"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/metrics"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/provisionprogress"
	"github.com/tangle-network/sandbox-controlplane/internal/ratelimit"
	"github.com/tangle-network/sandbox-controlplane/internal/sealedsecrets"
	"github.com/tangle-network/sandbox-controlplane/internal/secretprovisioning"
	"github.com/tangle-network/sandbox-controlplane/internal/sessionauth"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
	"github.com/tangle-network/sandbox-controlplane/internal/workflow"
)

// Server bundles every dependency the operator API's handlers need.
type Server struct {
	cfg         config.CORSConfig
	store       *store.Store[model.SandboxRecord]
	runtime     *dockerruntime.Runtime
	auth        *sessionauth.Authenticator
	secrets     *secretprovisioning.Service
	sealed      *sealedsecrets.Service
	teeProvider sealedsecrets.Provider
	progress    *provisionprogress.Tracker
	batches     *batch.Service
	workflows   *workflow.Service
	metrics     *metrics.Metrics
	log         *logging.Logger

	readLimiter  *ratelimit.Limiter
	writeLimiter *ratelimit.Limiter
	authLimiter  *ratelimit.Limiter

	now func() time.Time
}

// Deps is the constructor-time dependency bundle for New.
type Deps struct {
	CORS          config.CORSConfig
	Store         *store.Store[model.SandboxRecord]
	Runtime       *dockerruntime.Runtime
	Auth          *sessionauth.Authenticator
	Secrets       *secretprovisioning.Service
	Sealed        *sealedsecrets.Service
	TEEProvider   sealedsecrets.Provider
	Progress      *provisionprogress.Tracker
	BatchStore    *store.Store[model.BatchRecord]
	WorkflowStore *store.Store[model.WorkflowEntry]
	Metrics       *metrics.Metrics
	Log           *logging.Logger
}

// sandboxLookupAdapter lets the batch and workflow services resolve a
// sandbox's sidecar URL and token without depending on *store.Store or
// model.SandboxRecord directly.
type sandboxLookupAdapter struct {
	store *store.Store[model.SandboxRecord]
}

func (a sandboxLookupAdapter) Get(id string) (sidecarURL, token string, ok bool) {
	rec, ok := a.store.Get(id)
	if !ok {
		return "", "", false
	}
	return rec.SidecarURL, rec.Token, true
}

func New(deps Deps) *Server {
	lookup := sandboxLookupAdapter{store: deps.Store}
	return &Server{
		cfg:          deps.CORS,
		store:        deps.Store,
		runtime:      deps.Runtime,
		auth:         deps.Auth,
		secrets:      deps.Secrets,
		sealed:       deps.Sealed,
		teeProvider:  deps.TEEProvider,
		progress:     deps.Progress,
		batches:      batch.New(deps.BatchStore, lookup),
		workflows:    workflow.New(deps.WorkflowStore, lookup),
		metrics:      deps.Metrics,
		log:          deps.Log,
		readLimiter:  ratelimit.New(ratelimit.TierRead),
		writeLimiter: ratelimit.New(ratelimit.TierWrite),
		authLimiter:  ratelimit.New(ratelimit.TierAuth),
		now:          time.Now,
	}
}

// Workflows exposes the workflow service so the lifecycle engine can
// drive its cron-due evaluation from the reaper tick.
func (s *Server) Workflows() *workflow.Service {
	return s.workflows
}

// Router builds the full route tree with its middleware chain.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(recoveryMiddleware(s.log))
	router.Use(loggingMiddleware(s.log))
	router.Use(securityHeadersMiddleware())
	router.Use(bodyLimitMiddleware())
	router.Use(timeoutMiddleware(30 * time.Second))
	router.Use(corsMiddleware(s.cfg))

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	router.Handle("/metrics", s.metricsHandler()).Methods("GET")

	authRoutes := router.PathPrefix("/api/auth").Subrouter()
	authRoutes.Use(s.authLimiter.Middleware)
	authRoutes.HandleFunc("/challenge", s.handleAuthChallenge).Methods("POST")
	authRoutes.HandleFunc("/session", s.handleAuthSession).Methods("POST")

	readRoutes := router.PathPrefix("/api").Subrouter()
	readRoutes.Use(s.readLimiter.Middleware)
	readRoutes.Use(sessionAuthMiddleware(s.auth))
	readRoutes.HandleFunc("/sandboxes", s.handleListSandboxes).Methods("GET")
	readRoutes.HandleFunc("/provisions", s.handleListProvisions).Methods("GET")
	readRoutes.HandleFunc("/provisions/{call_id}", s.handleGetProvision).Methods("GET")
	readRoutes.HandleFunc("/batches/{batch_id}", s.handleGetBatch).Methods("GET")
	readRoutes.HandleFunc("/workflows", s.handleWorkflowList).Methods("GET")

	writeRoutes := router.PathPrefix("/api").Subrouter()
	writeRoutes.Use(s.writeLimiter.Middleware)
	writeRoutes.Use(sessionAuthMiddleware(s.auth))
	s.registerSandboxOperations(writeRoutes, "/sandboxes/{id}")
	s.registerSandboxOperations(writeRoutes, "/sandbox")
	writeRoutes.HandleFunc("/workflows", s.handleWorkflowCreate).Methods("POST")
	writeRoutes.HandleFunc("/workflows/{workflow_id}", s.handleWorkflowDelete).Methods("DELETE")

	return router
}

// registerSandboxOperations wires the identical operation set under
// both the multi-tenant /sandboxes/{id} prefix and the singleton
// /sandbox/instance prefix.
func (s *Server) registerSandboxOperations(router *mux.Router, prefix string) {
	router.HandleFunc(prefix+"/exec", s.handleExec).Methods("POST")
	router.HandleFunc(prefix+"/prompt", s.handlePrompt).Methods("POST")
	router.HandleFunc(prefix+"/task", s.handleTask).Methods("POST")
	router.HandleFunc(prefix+"/stop", s.handleStop).Methods("POST")
	router.HandleFunc(prefix+"/resume", s.handleResume).Methods("POST")
	router.HandleFunc(prefix+"/snapshot", s.handleSnapshot).Methods("POST")
	router.HandleFunc(prefix+"/ssh", s.handleSSHAdd).Methods("POST")
	router.HandleFunc(prefix+"/ssh", s.handleSSHRevoke).Methods("DELETE")
	router.HandleFunc(prefix+"/secrets", s.handleSecretsInject).Methods("POST")
	router.HandleFunc(prefix+"/secrets", s.handleSecretsWipe).Methods("DELETE")
	router.HandleFunc(prefix+"/tee/public-key", s.handleTEEPublicKey).Methods("GET")
	router.HandleFunc(prefix+"/tee/sealed-secrets", s.handleTEESealedSecrets).Methods("POST")
	router.HandleFunc(prefix+"/batch", s.handleBatchCreate).Methods("POST")
	router.HandleFunc(prefix+"/delete", s.handleDelete).Methods("POST")
}
