// Package autoprovision implements component N: at startup, in
// instance mode, poll the chain for a provisioning blob until one
// singleton sandbox has been created from it.
package autoprovision

import (
	"context"
	"math/big"
	"strings"
	"time"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

// ProvisionRequest is the flat-tuple payload getServiceConfig returns,
// decoded with params-style ABI encoding (no outer offset word).
type ProvisionRequest struct {
	Image              string
	AgentIdentifier    string
	Stack              string
	MetadataJSON       string
	CPUCores           uint64
	MemoryMB           uint64
	DiskGB             uint64
	IdleTimeoutSeconds uint64
	MaxLifetimeSeconds uint64
	NeedsSSHPort       bool
}

var provisionRequestArgs = ethabi.Arguments{
	mustArg("string"),
	mustArg("string"),
	mustArg("string"),
	mustArg("string"),
	mustArg("uint256"),
	mustArg("uint256"),
	mustArg("uint256"),
	mustArg("uint256"),
	mustArg("uint256"),
	mustArg("bool"),
}

func mustArg(typeName string) ethabi.Argument {
	ty, err := ethabi.NewType(typeName, "", nil)
	if err != nil {
		panic(err)
	}
	return ethabi.Argument{Type: ty}
}

// DecodeProvisionRequest ABI-decodes data as the flat ProvisionRequest
// tuple. Round-trips with EncodeProvisionRequest.
func DecodeProvisionRequest(data []byte) (ProvisionRequest, error) {
	values, err := provisionRequestArgs.UnpackValues(data)
	if err != nil {
		return ProvisionRequest{}, apierr.Wrap(apierr.KindValidation, "failed to ABI-decode provision request", err)
	}
	if len(values) != 10 {
		return ProvisionRequest{}, apierr.Validation("provision request decoded with unexpected field count")
	}
	return ProvisionRequest{
		Image:              values[0].(string),
		AgentIdentifier:    values[1].(string),
		Stack:              values[2].(string),
		MetadataJSON:       values[3].(string),
		CPUCores:           values[4].(*big.Int).Uint64(),
		MemoryMB:           values[5].(*big.Int).Uint64(),
		DiskGB:             values[6].(*big.Int).Uint64(),
		IdleTimeoutSeconds: values[7].(*big.Int).Uint64(),
		MaxLifetimeSeconds: values[8].(*big.Int).Uint64(),
		NeedsSSHPort:       values[9].(bool),
	}, nil
}

// EncodeProvisionRequest ABI-encodes req with the same flat-tuple
// params-style encoding DecodeProvisionRequest expects.
func EncodeProvisionRequest(req ProvisionRequest) ([]byte, error) {
	packed, err := provisionRequestArgs.Pack(
		req.Image,
		req.AgentIdentifier,
		req.Stack,
		req.MetadataJSON,
		new(big.Int).SetUint64(req.CPUCores),
		new(big.Int).SetUint64(req.MemoryMB),
		new(big.Int).SetUint64(req.DiskGB),
		new(big.Int).SetUint64(req.IdleTimeoutSeconds),
		new(big.Int).SetUint64(req.MaxLifetimeSeconds),
		req.NeedsSSHPort,
	)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, "failed to ABI-encode provision request", err)
	}
	return packed, nil
}

// ConfigReader is the chain-read surface the poller needs.
type ConfigReader interface {
	ReadBytes(ctx context.Context, contract common.Address, signature string, arg *big.Int) ([]byte, error)
	ReadAddress(ctx context.Context, contract common.Address, signature string, arg *big.Int) (common.Address, error)
}

// InstanceCreator runs the provisioning pipeline (component I's Create)
// for the singleton instance record.
type InstanceCreator interface {
	CreateInstance(ctx context.Context, req ProvisionRequest, owner string) (model.SandboxRecord, error)
}

// Poller implements the loop described in component N.
type Poller struct {
	cfg      config.AutoProvisionConfig
	contract common.Address
	reader   ConfigReader
	creator  InstanceCreator
	store    *store.Store[model.SandboxRecord]
	log      *logging.Logger
	sleep    func(time.Duration)
}

func New(cfg config.AutoProvisionConfig, contract common.Address, reader ConfigReader, creator InstanceCreator, st *store.Store[model.SandboxRecord], log *logging.Logger) *Poller {
	return &Poller{cfg: cfg, contract: contract, reader: reader, creator: creator, store: st, log: log, sleep: time.Sleep}
}

// Run polls until the singleton record exists, a provisioning blob is
// decoded and applied, or ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if _, ok := p.store.Get(model.InstanceRecordKey); ok {
		return nil
	}

	serviceID, ok := new(big.Int).SetString(p.cfg.ServiceID, 10)
	if !ok {
		serviceID = new(big.Int)
	}

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, ok := p.store.Get(model.InstanceRecordKey); ok {
			return nil
		}

		data, err := p.reader.ReadBytes(ctx, p.contract, "getServiceConfig(uint256)", serviceID)
		if err != nil {
			p.log.WithError(err).Warn("auto-provision config read failed, retrying")
		} else if len(data) > 0 {
			req, decodeErr := DecodeProvisionRequest(data)
			if decodeErr != nil {
				p.log.WithError(decodeErr).Warn("auto-provision blob failed to decode, retrying")
			} else {
				return p.applyProvisionRequest(ctx, serviceID, req)
			}
		}

		attempts++
		if p.cfg.MaxAttempts > 0 && attempts >= p.cfg.MaxAttempts {
			return apierr.New(apierr.KindCloudProvider, "auto-provision exceeded max attempts waiting for service config")
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.cfg.PollIntervalSecs):
		}
	}
}

func (p *Poller) applyProvisionRequest(ctx context.Context, serviceID *big.Int, req ProvisionRequest) error {
	ownerAddr, err := p.reader.ReadAddress(ctx, p.contract, "serviceOwner(uint256)", serviceID)
	if err != nil {
		return apierr.Wrap(apierr.KindCloudProvider, "failed to read service owner", err)
	}
	owner := strings.ToLower(ownerAddr.Hex())

	if _, ok := p.store.Get(model.InstanceRecordKey); ok {
		return nil
	}

	_, err = p.creator.CreateInstance(ctx, req, owner)
	if err != nil {
		return apierr.Wrap(apierr.KindDocker, "failed to provision singleton instance", err)
	}
	return nil
}
