// Package main is the control plane entry point: it wires the Docker
// runtime, lifecycle engine, operator API, and the optional TEE/billing/
// auto-provision subsystems together and serves the HTTP surface until
// signalled to stop.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tangle-network/sandbox-controlplane/internal/api"
	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/autoprovision"
	"github.com/tangle-network/sandbox-controlplane/internal/billing"
	"github.com/tangle-network/sandbox-controlplane/internal/chain"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/dockerruntime"
	"github.com/tangle-network/sandbox-controlplane/internal/lifecycle"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/metrics"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/provisionprogress"
	"github.com/tangle-network/sandbox-controlplane/internal/sealedsecrets"
	"github.com/tangle-network/sandbox-controlplane/internal/secretprovisioning"
	"github.com/tangle-network/sandbox-controlplane/internal/sessionauth"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
	"github.com/tangle-network/sandbox-controlplane/internal/teefactory"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

func main() {
	log := logging.NewFromEnv("controlplane")

	instanceMode := config.GetEnvBool("SANDBOX_INSTANCE_MODE", false)
	dataDir := config.GetEnv("DATA_DIR", "./data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		log.WithError(err).Fatal("failed to create data directory")
	}

	sandboxStoreFile := "sandboxes.json"
	if instanceMode {
		sandboxStoreFile = "instance.json"
	}
	sandboxStore, err := store.Open[model.SandboxRecord](filepath.Join(dataDir, sandboxStoreFile))
	if err != nil {
		log.WithError(err).Fatal("failed to open sandbox store")
	}
	provisionStore, err := store.Open[model.ProvisionStatus](filepath.Join(dataDir, "provisions.json"))
	if err != nil {
		log.WithError(err).Fatal("failed to open provision status store")
	}
	batchStore, err := store.Open[model.BatchRecord](filepath.Join(dataDir, "batches.json"))
	if err != nil {
		log.WithError(err).Fatal("failed to open batch store")
	}
	workflowStore, err := store.Open[model.WorkflowEntry](filepath.Join(dataDir, "workflows.json"))
	if err != nil {
		log.WithError(err).Fatal("failed to open workflow store")
	}

	m := metrics.New()
	dockerCfg := config.LoadDockerConfigFromEnv()
	runtime, err := dockerruntime.New(dockerCfg, sandboxStore, m, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to docker")
	}

	teeCfg := config.LoadTEEConfigFromEnv()
	teeProvider := buildTEEProvider(teeCfg, sandboxStore, log)

	sealed := sealedsecrets.New(teeProvider)
	secrets := secretprovisioning.New(sandboxStore, runtime)

	sessionSecret, ok := config.SessionAuthSecret()
	if !ok {
		log.Fatal("SESSION_AUTH_SECRET is required")
	}
	sessions, err := sessionauth.NewSessionManager(sessionSecret)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize session manager")
	}
	auth := sessionauth.NewAuthenticator(sessions)

	engine := lifecycle.New(dockerCfg, sandboxStore, runtime, m, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := engine.Reconcile(ctx); err != nil {
		log.WithError(err).Warn("startup reconciliation failed")
	}

	if instanceMode {
		runAutoProvisionIfNeeded(ctx, sandboxStore, runtime, log)
	}

	server := api.New(api.Deps{
		CORS:        config.LoadCORSConfigFromEnv(),
		Store:       sandboxStore,
		Runtime:     runtime,
		Auth:        auth,
		Secrets:     secrets,
		Sealed:      sealed,
		TEEProvider: teeProvider,
		Progress:      provisionprogress.New(provisionStore),
		BatchStore:    batchStore,
		WorkflowStore: workflowStore,
		Metrics:       m,
		Log:           log,
	})
	engine.SetWorkflows(server.Workflows())

	port := config.GetEnv("PORT", "8080")
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           server.Router(),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })

	if billingCfg := config.LoadBillingConfigFromEnv(); billingCfg.RPCEndpoint != "" && billingCfg.TangleContract != "" {
		if err := billingCfg.Validate(); err != nil {
			log.WithError(err).Fatal("invalid billing configuration")
		}
		watchdog, err := buildBillingWatchdog(billingCfg, sandboxStore, runtime, teeProvider, dataDir, log)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize billing watchdog")
		}
		g.Go(func() error { return watchdog.Run(gctx) })
	}

	g.Go(func() error {
		log.WithFields(map[string]interface{}{"port": port}).Info("control plane listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("control plane exited with error")
		os.Exit(1)
	}
}

// buildTEEProvider attaches the single globally configured TEE backend,
// if any, to every sandbox that declares itself TEE-required.
func buildTEEProvider(cfg config.TEEConfig, st *store.Store[model.SandboxRecord], log *logging.Logger) sealedsecrets.Provider {
	if cfg.Backend == config.TEEBackendNone {
		return noopTEEProvider{}
	}
	backend, err := teefactory.New(context.Background(), cfg, "")
	if err != nil {
		log.WithError(err).Warn("failed to initialize tee backend, TEE-required sandboxes will fail closed")
		return noopTEEProvider{}
	}
	return singleBackendProvider{store: st, backend: backend}
}

// runAutoProvisionIfNeeded runs component N once at startup, only when
// running the singleton instance mode with no existing record.
func runAutoProvisionIfNeeded(ctx context.Context, st *store.Store[model.SandboxRecord], runtime *dockerruntime.Runtime, log *logging.Logger) {
	if _, ok := st.Get(model.InstanceRecordKey); ok {
		return
	}
	cfg := config.LoadAutoProvisionConfigFromEnv()
	if cfg.ServiceID == "" || cfg.RPCEndpoint == "" {
		return
	}

	client, err := chain.NewClient(cfg.RPCEndpoint, 30*time.Second)
	if err != nil {
		log.WithError(err).Error("failed to build chain client for auto-provision")
		return
	}
	contract, err := parseServiceID(cfg.ServiceID)
	if err != nil {
		log.WithError(err).Error("invalid AUTO_PROVISION_SERVICE_ID")
		return
	}

	poller := autoprovision.New(cfg, contract, client, instanceCreatorAdapter{runtime: runtime}, st, log)
	if err := poller.Run(ctx); err != nil {
		log.WithError(err).Error("auto-provision poller failed")
	}
}

func buildBillingWatchdog(cfg config.BillingConfig, st *store.Store[model.SandboxRecord], runtime *dockerruntime.Runtime, teeProvider sealedsecrets.Provider, dataDir string, log *logging.Logger) (*billing.Watchdog, error) {
	client, err := chain.NewClient(cfg.RPCEndpoint, 30*time.Second)
	if err != nil {
		return nil, err
	}
	deprovisioner := deprovisionerAdapter{store: st, runtime: runtime, teeProvider: teeProvider}
	return billing.New(cfg, client, deprovisioner, dataDir, log)
}

func parseServiceID(raw string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, apierr.Validation("AUTO_PROVISION_SERVICE_ID must be a hex address")
	}
	return ethcommon.HexToAddress(raw), nil
}
