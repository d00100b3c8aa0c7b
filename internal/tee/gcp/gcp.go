// Package gcp implements the TEE backend that provisions GCP Confidential
// Space VMs (TDX or SEV confidential computing) running the sidecar image.
package gcp

import (
	"context"
	"fmt"
	"time"

	compute "google.golang.org/api/compute/v1"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

// Backend drives Compute Engine instances launched with a
// confidentialInstanceConfig targeting TDX or SEV.
type Backend struct {
	cfg     config.GCPConfig
	service *compute.Service
}

func New(ctx context.Context, cfg config.GCPConfig) (*Backend, error) {
	svc, err := compute.NewService(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "failed to build compute client", err)
	}
	return &Backend{cfg: cfg, service: svc}, nil
}

func instanceName(sandboxID string) string {
	return "sandbox-" + sandboxID
}

func (b *Backend) Deploy(ctx context.Context, params tee.DeployParams) (tee.Deployment, error) {
	name := instanceName(params.SandboxID)
	instance := &compute.Instance{
		Name:        name,
		MachineType: fmt.Sprintf("zones/%s/machineTypes/%s", b.cfg.Zone, b.cfg.MachineType),
		Disks: []*compute.AttachedDisk{{
			Boot:       true,
			AutoDelete: true,
			InitializeParams: &compute.AttachedDiskInitializeParams{
				SourceImage: b.cfg.Image,
			},
		}},
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network: "global/networks/" + b.cfg.Network,
			AccessConfigs: []*compute.AccessConfig{{
				Type: "ONE_TO_ONE_NAT",
				Name: "External NAT",
			}},
		}},
		ConfidentialInstanceConfig: &compute.ConfidentialInstanceConfig{
			EnableConfidentialCompute: true,
			ConfidentialInstanceType:  "TDX",
		},
		ShieldedInstanceConfig: &compute.ShieldedInstanceConfig{
			EnableSecureBoot:          true,
			EnableVtpm:                true,
			EnableIntegrityMonitoring: true,
		},
		Metadata: &compute.Metadata{
			Items: []*compute.MetadataItems{{
				Key:   "tee-image-reference",
				Value: &params.Image,
			}},
		},
		Labels: map[string]string{
			"sandbox-id": params.SandboxID,
			"managed-by": "sandbox-controlplane",
		},
	}

	op, err := b.service.Instances.Insert(b.cfg.ProjectID, b.cfg.Zone, instance).Context(ctx).Do()
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to insert confidential space instance", err)
	}
	if err := b.waitForOperation(ctx, op); err != nil {
		return tee.Deployment{}, err
	}

	publicIP, err := b.waitForPublicIP(ctx, name)
	if err != nil {
		return tee.Deployment{}, err
	}
	sidecarURL := fmt.Sprintf("http://%s:8080", publicIP)
	if err := tee.PollHealth(ctx, sidecarURL, 5*time.Minute); err != nil {
		return tee.Deployment{}, err
	}
	attestation, err := b.Attestation(ctx, name)
	if err != nil {
		return tee.Deployment{}, err
	}

	return tee.Deployment{DeploymentID: name, SidecarURL: sidecarURL, Attestation: attestation}, nil
}

func (b *Backend) waitForOperation(ctx context.Context, op *compute.Operation) error {
	deadline := time.Now().Add(5 * time.Minute)
	name := op.Name
	for {
		current, err := b.service.ZoneOperations.Get(b.cfg.ProjectID, b.cfg.Zone, name).Context(ctx).Do()
		if err == nil && current.Status == "DONE" {
			if current.Error != nil && len(current.Error.Errors) > 0 {
				return apierr.New(apierr.KindCloudProvider, "zone operation failed: "+current.Error.Errors[0].Message)
			}
			return nil
		}
		if time.Now().After(deadline) {
			return apierr.New(apierr.KindCloudProvider, "zone operation "+name+" did not complete in time")
		}
		select {
		case <-ctx.Done():
			return apierr.Wrap(apierr.KindCloudProvider, "context cancelled while waiting for zone operation", ctx.Err())
		case <-time.After(3 * time.Second):
		}
	}
}

func (b *Backend) waitForPublicIP(ctx context.Context, name string) (string, error) {
	deadline := time.Now().Add(2 * time.Minute)
	for {
		inst, err := b.service.Instances.Get(b.cfg.ProjectID, b.cfg.Zone, name).Context(ctx).Do()
		if err == nil {
			for _, iface := range inst.NetworkInterfaces {
				for _, ac := range iface.AccessConfigs {
					if ac.NatIP != "" {
						return ac.NatIP, nil
					}
				}
			}
		}
		if time.Now().After(deadline) {
			return "", apierr.New(apierr.KindCloudProvider, "instance "+name+" did not receive a public IP in time")
		}
		select {
		case <-ctx.Done():
			return "", apierr.Wrap(apierr.KindCloudProvider, "context cancelled while waiting for public IP", ctx.Err())
		case <-time.After(3 * time.Second):
		}
	}
}

func (b *Backend) sidecarURLFor(ctx context.Context, name string) (string, error) {
	inst, err := b.service.Instances.Get(b.cfg.ProjectID, b.cfg.Zone, name).Context(ctx).Do()
	if err != nil {
		return "", apierr.Wrap(apierr.KindCloudProvider, "failed to get confidential space instance", err)
	}
	for _, iface := range inst.NetworkInterfaces {
		for _, ac := range iface.AccessConfigs {
			if ac.NatIP != "" {
				return fmt.Sprintf("http://%s:8080", ac.NatIP), nil
			}
		}
	}
	return "", apierr.New(apierr.KindCloudProvider, "instance "+name+" has no public IP")
}

func (b *Backend) Attestation(ctx context.Context, deploymentID string) (tee.AttestationReport, error) {
	sidecarURL, err := b.sidecarURLFor(ctx, deploymentID)
	if err != nil {
		return tee.AttestationReport{}, err
	}
	evidence, err := tee.FetchAttestation(ctx, sidecarURL, "")
	if err != nil {
		return tee.AttestationReport{}, err
	}
	return tee.AttestationReport{TEEType: tee.KindTDX, Evidence: evidence, Timestamp: time.Now()}, nil
}

func (b *Backend) Stop(ctx context.Context, deploymentID string) error {
	_, err := b.service.Instances.Stop(b.cfg.ProjectID, b.cfg.Zone, deploymentID).Context(ctx).Do()
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to stop confidential space instance", err)
	}
	return nil
}

func (b *Backend) Destroy(ctx context.Context, deploymentID string) error {
	_, err := b.service.Instances.Delete(b.cfg.ProjectID, b.cfg.Zone, deploymentID).Context(ctx).Do()
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to delete confidential space instance", err)
	}
	return nil
}

func (b *Backend) TEEType() tee.Kind { return tee.KindTDX }

func (b *Backend) DerivePublicKey(ctx context.Context, deploymentID string) (tee.PublicKey, error) {
	sidecarURL, err := b.sidecarURLFor(ctx, deploymentID)
	if err != nil {
		return tee.PublicKey{}, err
	}
	attestation, err := b.Attestation(ctx, deploymentID)
	if err != nil {
		return tee.PublicKey{}, err
	}
	raw, err := tee.FetchAttestation(ctx, sidecarURL+"/public-key", "")
	if err != nil {
		return tee.PublicKey{}, err
	}
	return tee.PublicKey{Algorithm: "secp256k1", PublicKey: raw, Attestation: attestation}, nil
}

func (b *Backend) InjectSealedSecrets(ctx context.Context, deploymentID string, sealed tee.SealedSecret) (tee.InjectResult, error) {
	sidecarURL, err := b.sidecarURLFor(ctx, deploymentID)
	if err != nil {
		return tee.InjectResult{}, err
	}
	return tee.ForwardSealedSecrets(ctx, sidecarURL, "", sealed)
}
