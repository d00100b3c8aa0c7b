package autoprovision

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
	"github.com/tangle-network/sandbox-controlplane/internal/model"
	"github.com/tangle-network/sandbox-controlplane/internal/store"
)

func TestEncodeDecodeProvisionRequestRoundTrips(t *testing.T) {
	req := ProvisionRequest{
		Image:              "ghcr.io/tangle/agent-sidecar:latest",
		AgentIdentifier:    "default",
		Stack:              "python",
		MetadataJSON:       `{"team":"growth"}`,
		CPUCores:           2,
		MemoryMB:           4096,
		DiskGB:             20,
		IdleTimeoutSeconds: 1800,
		MaxLifetimeSeconds: 86400,
		NeedsSSHPort:       true,
	}

	encoded, err := EncodeProvisionRequest(req)
	if err != nil {
		t.Fatalf("EncodeProvisionRequest() error = %v", err)
	}
	decoded, err := DecodeProvisionRequest(encoded)
	if err != nil {
		t.Fatalf("DecodeProvisionRequest() error = %v", err)
	}
	if decoded != req {
		t.Fatalf("DecodeProvisionRequest() = %+v, want %+v", decoded, req)
	}
}

type stubConfigReader struct {
	bytesSeq []([]byte)
	call     int
	owner    common.Address
}

func (s *stubConfigReader) ReadBytes(ctx context.Context, contract common.Address, signature string, arg *big.Int) ([]byte, error) {
	idx := s.call
	if idx >= len(s.bytesSeq) {
		idx = len(s.bytesSeq) - 1
	}
	s.call++
	return s.bytesSeq[idx], nil
}

func (s *stubConfigReader) ReadAddress(ctx context.Context, contract common.Address, signature string, arg *big.Int) (common.Address, error) {
	return s.owner, nil
}

type stubCreator struct {
	created bool
	owner   string
}

func (s *stubCreator) CreateInstance(ctx context.Context, req ProvisionRequest, owner string) (model.SandboxRecord, error) {
	s.created = true
	s.owner = owner
	return model.SandboxRecord{ID: model.InstanceRecordKey, Owner: owner}, nil
}

func newPoller(t *testing.T, reader ConfigReader, creator InstanceCreator) *Poller {
	t.Helper()
	st, err := store.Open[model.SandboxRecord](filepath.Join(t.TempDir(), "sandboxes.json"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	cfg := config.AutoProvisionConfig{ServiceID: "1", PollIntervalSecs: time.Millisecond, MaxAttempts: 5}
	p := New(cfg, common.Address{}, reader, creator, st, logging.New("autoprovision-test", "error", "json"))
	p.sleep = func(time.Duration) {}
	return p
}

func TestRunSkipsWhenSingletonAlreadyExists(t *testing.T) {
	creator := &stubCreator{}
	p := newPoller(t, &stubConfigReader{bytesSeq: [][]byte{{1}}}, creator)
	if err := p.store.Insert(model.InstanceRecordKey, model.SandboxRecord{ID: model.InstanceRecordKey}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if creator.created {
		t.Fatal("expected no provisioning when singleton record already exists")
	}
}

func TestRunRetriesUntilConfigBytesReturned(t *testing.T) {
	encoded, err := EncodeProvisionRequest(ProvisionRequest{Image: "img", AgentIdentifier: "default"})
	if err != nil {
		t.Fatalf("EncodeProvisionRequest() error = %v", err)
	}
	owner := common.HexToAddress("0xABCDEF0000000000000000000000000000000001")
	reader := &stubConfigReader{bytesSeq: [][]byte{nil, nil, encoded}, owner: owner}
	creator := &stubCreator{}

	p := newPoller(t, reader, creator)
	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !creator.created {
		t.Fatal("expected CreateInstance to be called once config bytes were returned")
	}
	if creator.owner != "0xabcdef0000000000000000000000000000000001" {
		t.Fatalf("owner = %q, want lowercase hex", creator.owner)
	}
}
