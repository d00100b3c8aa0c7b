// Package azure implements the TEE backend that provisions Azure
// Confidential VMs with vTPM-backed secure key release (SKR), authenticated
// via OAuth2 client-credentials.
package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/network/armnetwork/v4"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

// Backend drives Azure Confidential VMs through the ARM compute and
// network clients, authenticated with a service-principal credential.
type Backend struct {
	cfg           config.AzureConfig
	vmClient      *armcompute.VirtualMachinesClient
	nicClient     *armnetwork.InterfacesClient
	publicIPClient *armnetwork.PublicIPAddressesClient
}

func New(cfg config.AzureConfig) (*Backend, error) {
	cred, err := azidentity.NewClientSecretCredential(cfg.TenantID, cfg.ClientID, cfg.ClientSecret, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "failed to build azure credential", err)
	}
	vmClient, err := armcompute.NewVirtualMachinesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "failed to build azure vm client", err)
	}
	nicClient, err := armnetwork.NewInterfacesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "failed to build azure nic client", err)
	}
	publicIPClient, err := armnetwork.NewPublicIPAddressesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "failed to build azure public ip client", err)
	}
	return &Backend{cfg: cfg, vmClient: vmClient, nicClient: nicClient, publicIPClient: publicIPClient}, nil
}

func vmName(sandboxID string) string { return "sandbox-" + sandboxID }

func (b *Backend) Deploy(ctx context.Context, params tee.DeployParams) (tee.Deployment, error) {
	name := vmName(params.SandboxID)
	nicName := name + "-nic"
	ipName := name + "-ip"

	ipPoller, err := b.publicIPClient.BeginCreateOrUpdate(ctx, b.cfg.ResourceGroup, ipName, armnetwork.PublicIPAddress{
		Location: to.Ptr(b.cfg.Location),
		Properties: &armnetwork.PublicIPAddressPropertiesFormat{
			PublicIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodStatic),
		},
		SKU: &armnetwork.PublicIPAddressSKU{Name: to.Ptr(armnetwork.PublicIPAddressSKUNameStandard)},
	}, nil)
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to create public ip", err)
	}
	if _, err := ipPoller.PollUntilDone(ctx, nil); err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "public ip creation failed", err)
	}

	nicPoller, err := b.nicClient.BeginCreateOrUpdate(ctx, b.cfg.ResourceGroup, nicName, armnetwork.Interface{
		Location: to.Ptr(b.cfg.Location),
		Properties: &armnetwork.InterfacePropertiesFormat{
			IPConfigurations: []*armnetwork.InterfaceIPConfiguration{{
				Name: to.Ptr("ipconfig1"),
				Properties: &armnetwork.InterfaceIPConfigurationPropertiesFormat{
					Subnet:                    &armnetwork.Subnet{ID: to.Ptr(b.cfg.SubnetID)},
					PublicIPAddress:           &armnetwork.PublicIPAddress{ID: to.Ptr(ipResourceID(b.cfg.SubscriptionID, b.cfg.ResourceGroup, ipName))},
					PrivateIPAllocationMethod: to.Ptr(armnetwork.IPAllocationMethodDynamic),
				},
			}},
		},
	}, nil)
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to create network interface", err)
	}
	if _, err := nicPoller.PollUntilDone(ctx, nil); err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "network interface creation failed", err)
	}

	vmPoller, err := b.vmClient.BeginCreateOrUpdate(ctx, b.cfg.ResourceGroup, name, armcompute.VirtualMachine{
		Location: to.Ptr(b.cfg.Location),
		Properties: &armcompute.VirtualMachineProperties{
			HardwareProfile: &armcompute.HardwareProfile{
				VMSize: to.Ptr(armcompute.VirtualMachineSizeTypes(b.cfg.VMSize)),
			},
			SecurityProfile: &armcompute.SecurityProfile{
				SecurityType: to.Ptr(armcompute.SecurityTypesConfidentialVM),
				UefiSettings: &armcompute.UefiSettings{
					SecureBootEnabled: to.Ptr(true),
					VTpmEnabled:       to.Ptr(true),
				},
			},
			NetworkProfile: &armcompute.NetworkProfile{
				NetworkInterfaces: []*armcompute.NetworkInterfaceReference{{
					ID: to.Ptr(nicResourceID(b.cfg.SubscriptionID, b.cfg.ResourceGroup, nicName)),
				}},
			},
			OSProfile: &armcompute.OSProfile{
				ComputerName:  to.Ptr(name),
				AdminUsername: to.Ptr("sandboxadmin"),
				CustomData:    to.Ptr(cloudInitFor(params)),
			},
		},
	}, nil)
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to create confidential vm", err)
	}
	if _, err := vmPoller.PollUntilDone(ctx, nil); err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "confidential vm creation failed", err)
	}

	ipResp, err := b.publicIPClient.Get(ctx, b.cfg.ResourceGroup, ipName, nil)
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to fetch public ip", err)
	}
	if ipResp.Properties == nil || ipResp.Properties.IPAddress == nil {
		return tee.Deployment{}, apierr.New(apierr.KindCloudProvider, "public ip has no address assigned")
	}
	sidecarURL := fmt.Sprintf("http://%s:8080", *ipResp.Properties.IPAddress)

	if err := tee.PollHealth(ctx, sidecarURL, 5*time.Minute); err != nil {
		return tee.Deployment{}, err
	}
	attestation, err := b.Attestation(ctx, name)
	if err != nil {
		return tee.Deployment{}, err
	}

	return tee.Deployment{DeploymentID: name, SidecarURL: sidecarURL, Attestation: attestation}, nil
}

func cloudInitFor(params tee.DeployParams) string {
	return fmt.Sprintf("#cloud-config\nruncmd:\n  - docker run -d -p 8080:8080 %s\n", params.Image)
}

func ipResourceID(sub, rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Network/publicIPAddresses/%s", sub, rg, name)
}

func nicResourceID(sub, rg, name string) string {
	return fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Network/networkInterfaces/%s", sub, rg, name)
}

func (b *Backend) sidecarURLFor(ctx context.Context, deploymentID string) (string, error) {
	ipName := deploymentID + "-ip"
	ipResp, err := b.publicIPClient.Get(ctx, b.cfg.ResourceGroup, ipName, nil)
	if err != nil {
		return "", apierr.Wrap(apierr.KindCloudProvider, "failed to fetch public ip", err)
	}
	if ipResp.Properties == nil || ipResp.Properties.IPAddress == nil {
		return "", apierr.New(apierr.KindCloudProvider, "public ip has no address assigned")
	}
	return fmt.Sprintf("http://%s:8080", *ipResp.Properties.IPAddress), nil
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
	return tee.AttestationReport{TEEType: tee.KindSEV, Evidence: evidence, Timestamp: time.Now()}, nil
}

func (b *Backend) Stop(ctx context.Context, deploymentID string) error {
	poller, err := b.vmClient.BeginDeallocate(ctx, b.cfg.ResourceGroup, deploymentID, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to deallocate confidential vm", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "confidential vm deallocation failed", err)
	}
	return nil
}

func (b *Backend) Destroy(ctx context.Context, deploymentID string) error {
	poller, err := b.vmClient.BeginDelete(ctx, b.cfg.ResourceGroup, deploymentID, nil)
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to delete confidential vm", err)
	}
	if _, err := poller.PollUntilDone(ctx, nil); err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "confidential vm deletion failed", err)
	}
	return nil
}

func (b *Backend) TEEType() tee.Kind { return tee.KindSEV }

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
