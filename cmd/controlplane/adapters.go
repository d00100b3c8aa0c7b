package main

import (
	"context"

	"github.com/tangle-network/sandbox-controlplane/internal/autoprovision"
	"github.com/tangle-network/sandbox-controlplane/internal/dockerruntime"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/sealedsecrets"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

// instanceCreatorAdapter lets the auto-provision poller run the same
// Docker runtime Create path a manual request would, under the singleton
// record key.
type instanceCreatorAdapter struct {
	runtime *dockerruntime.Runtime
}

func (a instanceCreatorAdapter) CreateInstance(ctx context.Context, req autoprovision.ProvisionRequest, owner string) (model.SandboxRecord, error) {
	return a.runtime.Create(ctx, dockerruntime.CreateSandboxParams{
		ID:                 model.InstanceRecordKey,
		Image:              req.Image,
		AgentIdentifier:    req.AgentIdentifier,
		Stack:              req.Stack,
		MetadataJSON:       req.MetadataJSON,
		Owner:              owner,
		CPUCores:           float64(req.CPUCores),
		MemoryMB:           int64(req.MemoryMB),
		DiskGB:             int64(req.DiskGB),
		IdleTimeoutSeconds: int64(req.IdleTimeoutSeconds),
		MaxLifetimeSeconds: int64(req.MaxLifetimeSeconds),
		NeedsSSHPort:       req.NeedsSSHPort,
	})
}

// deprovisionerAdapter is the shared deprovision entry point the billing
// watchdog invokes once a service's escrow balance has run dry past the
// grace period.
type deprovisionerAdapter struct {
	store       *store.Store[model.SandboxRecord]
	runtime     *dockerruntime.Runtime
	teeProvider sealedsecrets.Provider
}

func (d deprovisionerAdapter) Deprovision(ctx context.Context, serviceID string) error {
	rec, ok := d.store.Get(model.InstanceRecordKey)
	if !ok {
		return nil
	}

	var backend tee.Backend
	if rec.IsTEERequired() && d.teeProvider != nil {
		backend, _, _ = d.teeProvider.BackendFor(rec.ID)
	}
	return d.runtime.Delete(ctx, rec.ID, backend)
}

// noopTEEProvider backs sealedsecrets.Service when no TEE backend was
// configured; every lookup fails closed rather than panicking.
type noopTEEProvider struct{}

func (noopTEEProvider) BackendFor(sandboxID string) (tee.Backend, string, error) {
	return nil, "", errNoTEEConfigured
}

type controlPlaneError string

func (e controlPlaneError) Error() string { return string(e) }

const errNoTEEConfigured = controlPlaneError("no tee backend configured")

// singleBackendProvider attaches the one configured tee.Backend to every
// sandbox record that declares itself TEE-required; the control plane
// supports a single active backend kind per deployment.
type singleBackendProvider struct {
	store   *store.Store[model.SandboxRecord]
	backend tee.Backend
}

func (p singleBackendProvider) BackendFor(sandboxID string) (tee.Backend, string, error) {
	rec, ok := p.store.Get(sandboxID)
	if !ok {
		return nil, "", errNoTEEConfigured
	}
	return p.backend, rec.TEEDeploymentID, nil
}
