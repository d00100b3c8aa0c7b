package billing

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
)

type stubReader struct {
	balance, rate *big.Int
	err           error
}

func (s *stubReader) ReadUint256(ctx context.Context, contract common.Address, signature string, arg *big.Int) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	if signature == "balanceOf(uint256)" {
		return s.balance, nil
	}
	return s.rate, nil
}

type stubDeprovisioner struct {
	called    bool
	serviceID string
}

func (s *stubDeprovisioner) Deprovision(ctx context.Context, serviceID string) error {
	s.called = true
	s.serviceID = serviceID
	return nil
}

func newWatchdog(t *testing.T, reader Reader, deprovisioner Deprovisioner, maxFailures int) *Watchdog {
	t.Helper()
	cfg := config.BillingConfig{
		ServiceID:              "1",
		CheckInterval:          time.Second,
		MaxConsecutiveFailures: maxFailures,
		LowBalanceMultiplier:   3.0,
	}
	w := &Watchdog{cfg: cfg, reader: reader, deprovisioner: deprovisioner, log: logging.New("billing-test", "error", "json"), now: time.Now}
	w.writeReport = func(statusReport) error { return nil }
	return w
}

func TestTickSufficientResetsCounter(t *testing.T) {
	w := newWatchdog(t, &stubReader{balance: big.NewInt(100), rate: big.NewInt(10)}, nil, 3)
	w.consecutiveFailures = 2

	done, err := w.tick(context.Background())
	if err != nil || done {
		t.Fatalf("tick() = (%v, %v), want (false, nil)", done, err)
	}
	if w.consecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures = %d, want 0", w.consecutiveFailures)
	}
}

func TestTickZeroRateAlwaysSufficient(t *testing.T) {
	w := newWatchdog(t, &stubReader{balance: big.NewInt(0), rate: big.NewInt(0)}, nil, 3)

	if done, err := w.tick(context.Background()); err != nil || done {
		t.Fatalf("tick() = (%v, %v)", done, err)
	}
	if w.consecutiveFailures != 0 {
		t.Fatalf("consecutiveFailures = %d, want 0", w.consecutiveFailures)
	}
}

func TestTickTransientErrorLeavesCounterUnchanged(t *testing.T) {
	w := newWatchdog(t, &stubReader{err: context.DeadlineExceeded}, nil, 3)
	w.consecutiveFailures = 1

	if done, err := w.tick(context.Background()); err != nil || done {
		t.Fatalf("tick() = (%v, %v), want (false, nil)", done, err)
	}
	if w.consecutiveFailures != 1 {
		t.Fatalf("consecutiveFailures = %d, want unchanged at 1", w.consecutiveFailures)
	}
}

func TestTickInsufficientBelowThresholdIncrementsOnly(t *testing.T) {
	w := newWatchdog(t, &stubReader{balance: big.NewInt(1), rate: big.NewInt(10)}, nil, 3)

	if done, err := w.tick(context.Background()); err != nil || done {
		t.Fatalf("tick() = (%v, %v)", done, err)
	}
	if w.consecutiveFailures != 1 {
		t.Fatalf("consecutiveFailures = %d, want 1", w.consecutiveFailures)
	}
}

func TestTickReachingThresholdTriggersDeprovision(t *testing.T) {
	dep := &stubDeprovisioner{}
	w := newWatchdog(t, &stubReader{balance: big.NewInt(1), rate: big.NewInt(10)}, dep, 2)
	w.consecutiveFailures = 1

	done, err := w.tick(context.Background())
	if err != nil || !done {
		t.Fatalf("tick() = (%v, %v), want (true, nil)", done, err)
	}
	if !dep.called || dep.serviceID != "1" {
		t.Fatalf("expected deprovisioner called with service id 1, got called=%v id=%q", dep.called, dep.serviceID)
	}
}

func TestPeriodsRemainingSaturates(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 200)
	if got := periodsRemaining(huge, big.NewInt(1)); got != ^uint64(0) {
		t.Fatalf("periodsRemaining() = %d, want max uint64", got)
	}
	if got := periodsRemaining(big.NewInt(30), big.NewInt(10)); got != 3 {
		t.Fatalf("periodsRemaining() = %d, want 3", got)
	}
}
