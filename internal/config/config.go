package config

import "time"

// DockerConfig configures the local Docker sandbox runtime (component I).
type DockerConfig struct {
	Image              string
	PublicHost         string
	HTTPPort           int
	SSHPort            int
	RequestTimeout     time.Duration
	DockerHost         string
	PullImage          bool
	DefaultIdleTimeout time.Duration
	MaxIdleTimeout     time.Duration
	DefaultMaxLifetime time.Duration
	MaxMaxLifetime     time.Duration
	ReaperInterval     time.Duration
	GCInterval         time.Duration
	HotRetention       time.Duration
	WarmRetention      time.Duration
	ColdRetention      time.Duration
	SnapshotAutoCommit bool
	SnapshotDestPrefix string
}

// LoadDockerConfigFromEnv reads the SIDECAR_*/SANDBOX_* environment
// variables documented in the external interfaces section.
func LoadDockerConfigFromEnv() DockerConfig {
	return DockerConfig{
		Image:              GetEnv("SIDECAR_IMAGE", ""),
		PublicHost:         GetEnv("SIDECAR_PUBLIC_HOST", "127.0.0.1"),
		HTTPPort:           GetEnvInt("SIDECAR_HTTP_PORT", 8080),
		SSHPort:            GetEnvInt("SIDECAR_SSH_PORT", 22),
		RequestTimeout:     GetEnvDurationSecs("REQUEST_TIMEOUT_SECS", 30),
		DockerHost:         GetEnv("DOCKER_HOST", ""),
		PullImage:          GetEnvBool("SIDECAR_PULL_IMAGE", true),
		DefaultIdleTimeout: GetEnvDurationSecs("SANDBOX_DEFAULT_IDLE_TIMEOUT", 1800),
		MaxIdleTimeout:     GetEnvDurationSecs("SANDBOX_MAX_IDLE_TIMEOUT", 7200),
		DefaultMaxLifetime: GetEnvDurationSecs("SANDBOX_DEFAULT_MAX_LIFETIME", 86400),
		MaxMaxLifetime:     GetEnvDurationSecs("SANDBOX_MAX_MAX_LIFETIME", 172800),
		ReaperInterval:     GetEnvDurationSecs("SANDBOX_REAPER_INTERVAL", 30),
		GCInterval:         GetEnvDurationSecs("SANDBOX_GC_INTERVAL", 3600),
		HotRetention:       GetEnvDurationSecs("SANDBOX_GC_HOT_RETENTION", 86400),
		WarmRetention:      GetEnvDurationSecs("SANDBOX_GC_WARM_RETENTION", 172800),
		ColdRetention:      GetEnvDurationSecs("SANDBOX_GC_COLD_RETENTION", 604800),
		SnapshotAutoCommit: GetEnvBool("SANDBOX_SNAPSHOT_AUTO_COMMIT", true),
		SnapshotDestPrefix: GetEnv("SANDBOX_SNAPSHOT_DESTINATION_PREFIX", ""),
	}
}

// EffectiveIdleTimeout clamps a caller-requested idle timeout.
func (c DockerConfig) EffectiveIdleTimeout(requested time.Duration) time.Duration {
	want := requested
	if want <= 0 {
		want = c.DefaultIdleTimeout
	}
	if c.MaxIdleTimeout > 0 && want > c.MaxIdleTimeout {
		return c.MaxIdleTimeout
	}
	return want
}

// EffectiveMaxLifetime clamps a caller-requested max lifetime.
func (c DockerConfig) EffectiveMaxLifetime(requested time.Duration) time.Duration {
	want := requested
	if want <= 0 {
		want = c.DefaultMaxLifetime
	}
	if c.MaxMaxLifetime > 0 && want > c.MaxMaxLifetime {
		return c.MaxMaxLifetime
	}
	return want
}

// TEEBackendKind names a supported TEE backend, mirroring component G.
type TEEBackendKind string

const (
	TEEBackendNone    TEEBackendKind = ""
	TEEBackendPhala   TEEBackendKind = "phala"
	TEEBackendNitro   TEEBackendKind = "aws_nitro"
	TEEBackendGCP     TEEBackendKind = "gcp_confidential_space"
	TEEBackendAzure   TEEBackendKind = "azure_skr"
	TEEBackendDirect  TEEBackendKind = "direct"
)

// TEEConfig bundles the shared and per-backend settings for component G.
type TEEConfig struct {
	Backend TEEBackendKind

	Phala  PhalaConfig
	Nitro  NitroConfig
	GCP    GCPConfig
	Azure  AzureConfig
}

type PhalaConfig struct {
	ControlServiceURL string
	APIKey            string
}

type NitroConfig struct {
	Region           string
	AMI              string
	InstanceType     string
	KeyName          string
	SecurityGroupID  string
	SubnetID         string
	EnclaveCPUCount  int
	EnclaveMemoryMiB int
}

type GCPConfig struct {
	ProjectID   string
	Zone        string
	MachineType string
	Image       string
	Network     string
}

type AzureConfig struct {
	TenantID       string
	ClientID       string
	ClientSecret   string
	SubscriptionID string
	ResourceGroup  string
	Location       string
	VMSize         string
	SubnetID       string
}

// LoadTEEConfigFromEnv reads TEE_BACKEND and per-backend variables.
func LoadTEEConfigFromEnv() TEEConfig {
	return TEEConfig{
		Backend: TEEBackendKind(GetEnv("TEE_BACKEND", "")),
		Phala: PhalaConfig{
			ControlServiceURL: GetEnv("PHALA_CONTROL_SERVICE_URL", ""),
			APIKey:            GetEnv("PHALA_API_KEY", ""),
		},
		Nitro: NitroConfig{
			Region:           GetEnv("AWS_NITRO_REGION", "us-east-1"),
			AMI:              GetEnv("AWS_NITRO_AMI", ""),
			InstanceType:     GetEnv("AWS_NITRO_INSTANCE_TYPE", "m5.xlarge"),
			KeyName:          GetEnv("AWS_NITRO_KEY_NAME", ""),
			SecurityGroupID:  GetEnv("AWS_NITRO_SECURITY_GROUP_ID", ""),
			SubnetID:         GetEnv("AWS_NITRO_SUBNET_ID", ""),
			EnclaveCPUCount:  GetEnvInt("AWS_NITRO_ENCLAVE_CPU_COUNT", 2),
			EnclaveMemoryMiB: GetEnvInt("AWS_NITRO_ENCLAVE_MEMORY_MIB", 4096),
		},
		GCP: GCPConfig{
			ProjectID:   GetEnv("GCP_PROJECT_ID", ""),
			Zone:        GetEnv("GCP_ZONE", "us-central1-a"),
			MachineType: GetEnv("GCP_MACHINE_TYPE", "c3-standard-4"),
			Image:       GetEnv("GCP_CONFIDENTIAL_SPACE_IMAGE", ""),
			Network:     GetEnv("GCP_NETWORK", "default"),
		},
		Azure: AzureConfig{
			TenantID:       GetEnv("AZURE_TENANT_ID", ""),
			ClientID:       GetEnv("AZURE_CLIENT_ID", ""),
			ClientSecret:   GetEnv("AZURE_CLIENT_SECRET", ""),
			SubscriptionID: GetEnv("AZURE_SUBSCRIPTION_ID", ""),
			ResourceGroup:  GetEnv("AZURE_RESOURCE_GROUP", ""),
			Location:       GetEnv("AZURE_LOCATION", "eastus"),
			VMSize:         GetEnv("AZURE_VM_SIZE", "Standard_DC4as_v5"),
			SubnetID:       GetEnv("AZURE_SUBNET_ID", ""),
		},
	}
}

// BillingConfig parameterizes the billing watchdog (component M).
type BillingConfig struct {
	TangleContract           string
	RPCEndpoint              string
	ServiceID                string
	BlueprintID              string
	CheckInterval            time.Duration
	MaxConsecutiveFailures   int
	LowBalanceMultiplier     float64
	DeprovisionGracePeriod   time.Duration
}

// LoadBillingConfigFromEnv reads the watchdog's tunables.
func LoadBillingConfigFromEnv() BillingConfig {
	return BillingConfig{
		TangleContract:         GetEnv("BILLING_TANGLE_CONTRACT", ""),
		RPCEndpoint:            GetEnv("BILLING_RPC_ENDPOINT", ""),
		ServiceID:              GetEnv("BILLING_SERVICE_ID", ""),
		BlueprintID:            GetEnv("BILLING_BLUEPRINT_ID", ""),
		CheckInterval:          GetEnvDurationSecs("BILLING_CHECK_INTERVAL_SECS", 60),
		MaxConsecutiveFailures: GetEnvInt("BILLING_MAX_CONSECUTIVE_FAILURES", 3),
		LowBalanceMultiplier:   GetEnvFloat("BILLING_LOW_BALANCE_MULTIPLIER", 3.0),
		DeprovisionGracePeriod: GetEnvDurationSecs("BILLING_DEPROVISION_GRACE_PERIOD_SECS", 3600),
	}
}

// Validate checks the preconditions §4.M requires before the watchdog starts.
func (c BillingConfig) Validate() error {
	if c.CheckInterval <= 0 {
		return errInvalidBilling("check_interval must be positive")
	}
	if c.MaxConsecutiveFailures <= 0 {
		return errInvalidBilling("max_consecutive_failures must be positive")
	}
	return nil
}

type billingConfigError string

func (e billingConfigError) Error() string { return string(e) }

func errInvalidBilling(msg string) error { return billingConfigError(msg) }

// AutoProvisionConfig parameterizes the instance-mode poller (component N).
type AutoProvisionConfig struct {
	ServiceID        string
	RPCEndpoint      string
	PollIntervalSecs time.Duration
	MaxAttempts      int
}

func LoadAutoProvisionConfigFromEnv() AutoProvisionConfig {
	return AutoProvisionConfig{
		ServiceID:        GetEnv("AUTO_PROVISION_SERVICE_ID", ""),
		RPCEndpoint:      GetEnv("AUTO_PROVISION_RPC_ENDPOINT", ""),
		PollIntervalSecs: GetEnvDurationSecs("AUTO_PROVISION_POLL_INTERVAL_SECS", 10),
		MaxAttempts:      GetEnvInt("AUTO_PROVISION_MAX_ATTEMPTS", 0),
	}
}

// CORSConfig drives the operator API's CORS middleware (component L).
type CORSConfig struct {
	// Mode is "none" (disabled/exact-localhost), "*" (allow any), or a
	// comma-separated explicit origin list (credentials allowed).
	Raw string
}

func LoadCORSConfigFromEnv() CORSConfig {
	return CORSConfig{Raw: GetEnv("CORS_ALLOWED_ORIGINS", "")}
}

// SessionAuthSecret returns the raw SESSION_AUTH_SECRET value, if set.
func SessionAuthSecret() (string, bool) {
	return RequireEnv("SESSION_AUTH_SECRET")
}
