// Package nitro implements the TEE backend that provisions AWS EC2
// instances running Nitro Enclaves, reaching the enclave over a vsock
// proxy exposed by socat on the host instance.
package nitro

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/tee"
)

// Backend drives EC2 instances whose cloud-init script launches the
// sidecar image inside a Nitro Enclave and bridges its vsock port to a
// public TCP port via socat.
type Backend struct {
	cfg    config.NitroConfig
	client *ec2.Client
}

func New(ctx context.Context, cfg config.NitroConfig) (*Backend, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindCloudProvider, "failed to load aws config", err)
	}
	return &Backend{cfg: cfg, client: ec2.NewFromConfig(awsCfg)}, nil
}

// cloudInit renders the user-data script that starts the enclave and the
// vsock-to-TCP proxy on boot.
func cloudInit(params tee.DeployParams, enclaveCPUCount, enclaveMemoryMiB int) string {
	return fmt.Sprintf(`#cloud-config
runcmd:
  - amazon-linux-extras install aws-nitro-enclaves-cli -y
  - systemctl start nitro-enclaves-allocator.service
  - nitro-cli run-enclave --cpu-count %d --memory %d --eif-path /opt/sidecar.eif --enclave-cid 16
  - socat TCP-LISTEN:8080,fork,reuseaddr VSOCK-CONNECT:16:8080 &
  - socat TCP-LISTEN:22,fork,reuseaddr VSOCK-CONNECT:16:22 &
# sandbox: %s
`, enclaveCPUCount, enclaveMemoryMiB, params.SandboxID)
}

func (b *Backend) Deploy(ctx context.Context, params tee.DeployParams) (tee.Deployment, error) {
	userData := base64.StdEncoding.EncodeToString([]byte(cloudInit(params, b.cfg.EnclaveCPUCount, b.cfg.EnclaveMemoryMiB)))

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(b.cfg.AMI),
		InstanceType: ec2types.InstanceType(b.cfg.InstanceType),
		MinCount:     aws.Int32(1),
		MaxCount:     aws.Int32(1),
		UserData:     aws.String(userData),
		EnclaveOptions: &ec2types.EnclaveOptionsRequest{
			Enabled: aws.Bool(true),
		},
		TagSpecifications: []ec2types.TagSpecification{{
			ResourceType: ec2types.ResourceTypeInstance,
			Tags: []ec2types.Tag{
				{Key: aws.String("sandbox-id"), Value: aws.String(params.SandboxID)},
				{Key: aws.String("managed-by"), Value: aws.String("sandbox-controlplane")},
			},
		}},
	}
	if b.cfg.KeyName != "" {
		input.KeyName = aws.String(b.cfg.KeyName)
	}
	if b.cfg.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{b.cfg.SecurityGroupID}
	}
	if b.cfg.SubnetID != "" {
		input.SubnetId = aws.String(b.cfg.SubnetID)
	}

	out, err := b.client.RunInstances(ctx, input)
	if err != nil {
		return tee.Deployment{}, apierr.Wrap(apierr.KindCloudProvider, "failed to launch nitro enclave instance", err)
	}
	if len(out.Instances) == 0 {
		return tee.Deployment{}, apierr.New(apierr.KindCloudProvider, "run-instances returned no instances")
	}
	instanceID := aws.ToString(out.Instances[0].InstanceId)

	publicIP, err := b.waitForPublicIP(ctx, instanceID)
	if err != nil {
		return tee.Deployment{}, err
	}
	sidecarURL := fmt.Sprintf("http://%s:8080", publicIP)

	if err := tee.PollHealth(ctx, sidecarURL, 5*time.Minute); err != nil {
		return tee.Deployment{}, err
	}
	attestation, err := b.Attestation(ctx, instanceID)
	if err != nil {
		return tee.Deployment{}, err
	}

	return tee.Deployment{
		DeploymentID: instanceID,
		SidecarURL:   sidecarURL,
		SSHPort:      22,
		Attestation:  attestation,
	}, nil
}

func (b *Backend) waitForPublicIP(ctx context.Context, instanceID string) (string, error) {
	deadline := time.Now().Add(5 * time.Minute)
	for {
		out, err := b.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
		if err == nil && len(out.Reservations) > 0 && len(out.Reservations[0].Instances) > 0 {
			inst := out.Reservations[0].Instances[0]
			if ip := aws.ToString(inst.PublicIpAddress); ip != "" {
				return ip, nil
			}
		}
		if time.Now().After(deadline) {
			return "", apierr.New(apierr.KindCloudProvider, "instance "+instanceID+" did not receive a public IP in time")
		}
		select {
		case <-ctx.Done():
			return "", apierr.Wrap(apierr.KindCloudProvider, "context cancelled while waiting for public IP", ctx.Err())
		case <-time.After(5 * time.Second):
		}
	}
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
	return tee.AttestationReport{TEEType: tee.KindNitro, Evidence: evidence, Timestamp: time.Now()}, nil
}

func (b *Backend) sidecarURLFor(ctx context.Context, instanceID string) (string, error) {
	out, err := b.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{instanceID}})
	if err != nil {
		return "", apierr.Wrap(apierr.KindCloudProvider, "failed to describe nitro instance", err)
	}
	if len(out.Reservations) == 0 || len(out.Reservations[0].Instances) == 0 {
		return "", apierr.NotFound("nitro_instance", instanceID)
	}
	ip := aws.ToString(out.Reservations[0].Instances[0].PublicIpAddress)
	if ip == "" {
		return "", apierr.New(apierr.KindCloudProvider, "instance "+instanceID+" has no public IP")
	}
	return fmt.Sprintf("http://%s:8080", ip), nil
}

func (b *Backend) Stop(ctx context.Context, deploymentID string) error {
	_, err := b.client.StopInstances(ctx, &ec2.StopInstancesInput{InstanceIds: []string{deploymentID}})
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to stop nitro instance", err)
	}
	return nil
}

func (b *Backend) Destroy(ctx context.Context, deploymentID string) error {
	_, err := b.client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{InstanceIds: []string{deploymentID}})
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to terminate nitro instance", err)
	}
	return nil
}

func (b *Backend) TEEType() tee.Kind { return tee.KindNitro }

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
	// The vsock proxy only forwards plain HTTP; secret injection is
	// delegated to the sidecar's own /sealed-secrets endpoint over that
	// tunnel.
	sidecarURL, err := b.sidecarURLFor(ctx, deploymentID)
	if err != nil {
		return tee.InjectResult{}, err
	}
	return tee.ForwardSealedSecrets(ctx, sidecarURL, "", sealed)
}
