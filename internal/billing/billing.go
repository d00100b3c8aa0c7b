// Package billing implements component M: a standalone periodic task
// that watches a Tangle service's escrow balance against its per-tick
// rate, escalating to a deprovision request after sustained shortfall.
package billing

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tangle-network/sandbox-controlplane/internal/apierr"
	"github.com/tangle-network/sandbox-controlplane/internal/chain"
	"github.com/tangle-network/sandbox-controlplane/internal/config"
	"github.com/tangle-network/sandbox-controlplane/internal/logging"
)

// Status is the classification the watchdog produces each tick.
type Status string

const (
	StatusSufficient         Status = "sufficient"
	StatusLowBalance         Status = "low_balance"
	StatusInsufficient       Status = "insufficient"
	StatusDeprovisionRequired Status = "deprovision_required"
	StatusTransientError     Status = "transient_error"
)

// Reader is the chain-read surface the watchdog needs; satisfied by
// *chain.Client, narrowed here so tests can stub it.
type Reader interface {
	ReadUint256(ctx context.Context, contract common.Address, signature string, arg *big.Int) (*big.Int, error)
}

// Deprovisioner is the shared deprovision entry point invoked once
// DeprovisionRequired fires.
type Deprovisioner interface {
	Deprovision(ctx context.Context, serviceID string) error
}

// reportWriter persists the billing-status JSON file for external
// observability; abstracted so tests don't touch the filesystem.
type reportWriter func(status statusReport) error

type statusReport struct {
	Status            Status    `json:"status"`
	ServiceID         string    `json:"service_id"`
	ConsecutiveFails  int       `json:"consecutive_failures"`
	PeriodsRemaining  uint64    `json:"periods_remaining,omitempty"`
	Balance           string    `json:"balance,omitempty"`
	Rate              string    `json:"rate,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Watchdog runs the periodic escrow check described in component M.
type Watchdog struct {
	cfg           config.BillingConfig
	reader        Reader
	contract      common.Address
	deprovisioner Deprovisioner
	log           *logging.Logger

	consecutiveFailures int
	writeReport         reportWriter
	now                 func() time.Time
}

// New validates cfg and builds a Watchdog reading through client.
func New(cfg config.BillingConfig, client *chain.Client, deprovisioner Deprovisioner, statusDir string, log *logging.Logger) (*Watchdog, error) {
	if err := cfg.Validate(); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, "invalid billing watchdog configuration", err)
	}
	w := &Watchdog{
		cfg:           cfg,
		reader:        client,
		contract:      common.HexToAddress(cfg.TangleContract),
		deprovisioner: deprovisioner,
		log:           log,
		now:           time.Now,
	}
	w.writeReport = func(status statusReport) error { return writeReportFile(statusDir, status) }
	return w, nil
}

func writeReportFile(statusDir string, status statusReport) error {
	if statusDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return apierr.Wrap(apierr.KindValidation, "failed to marshal billing status report", err)
	}
	return os.WriteFile(filepath.Join(statusDir, "billing-status.json"), data, 0o644)
}

// Run drives the ticker loop until ctx is cancelled or a deprovision
// request fires and completes.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			done, err := w.tick(ctx)
			if err != nil {
				w.log.WithError(err).Warn("billing watchdog tick failed")
			}
			if done {
				return nil
			}
		}
	}
}

// tick performs one check; the bool return reports whether the watchdog
// should exit (deprovision completed).
func (w *Watchdog) tick(ctx context.Context) (bool, error) {
	serviceID, ok := new(big.Int).SetString(w.cfg.ServiceID, 10)
	if !ok {
		serviceID = new(big.Int)
	}

	balance, err := w.reader.ReadUint256(ctx, w.contract, "balanceOf(uint256)", serviceID)
	if err != nil {
		w.log.WithFields(map[string]interface{}{"service_id": w.cfg.ServiceID}).Warn("transient error reading escrow balance")
		return false, nil
	}
	rate, err := w.reader.ReadUint256(ctx, w.contract, "rateOf(uint256)", serviceID)
	if err != nil {
		w.log.WithFields(map[string]interface{}{"service_id": w.cfg.ServiceID}).Warn("transient error reading escrow rate")
		return false, nil
	}

	report := statusReport{ServiceID: w.cfg.ServiceID, Balance: balance.String(), Rate: rate.String(), UpdatedAt: w.now()}

	sufficient := rate.Sign() == 0 || balance.Cmp(rate) >= 0
	if sufficient {
		previousFailures := w.consecutiveFailures
		if previousFailures > 0 {
			w.log.WithFields(map[string]interface{}{"service_id": w.cfg.ServiceID, "previous_failures": previousFailures}).Info("escrow balance recovered")
		}
		w.consecutiveFailures = 0
		report.Status = StatusSufficient
		report.ConsecutiveFails = 0

		if w.cfg.LowBalanceMultiplier > 0 && rate.Sign() > 0 {
			threshold := new(big.Float).Mul(new(big.Float).SetInt(rate), big.NewFloat(w.cfg.LowBalanceMultiplier))
			if new(big.Float).SetInt(balance).Cmp(threshold) < 0 {
				report.Status = StatusLowBalance
				report.PeriodsRemaining = periodsRemaining(balance, rate)
			}
		}
		_ = w.writeReport(report)
		return false, nil
	}

	w.consecutiveFailures++
	report.ConsecutiveFails = w.consecutiveFailures

	if w.consecutiveFailures >= w.cfg.MaxConsecutiveFailures {
		report.Status = StatusDeprovisionRequired
		_ = w.writeReport(report)
		w.log.WithFields(map[string]interface{}{"service_id": w.cfg.ServiceID, "consecutive_failures": w.consecutiveFailures}).Warn("escrow balance insufficient past threshold, deprovisioning")

		if w.cfg.DeprovisionGracePeriod > 0 {
			timer := time.NewTimer(w.cfg.DeprovisionGracePeriod)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return true, nil
			case <-timer.C:
			}
		}
		if w.deprovisioner != nil {
			if err := w.deprovisioner.Deprovision(ctx, w.cfg.ServiceID); err != nil {
				return true, apierr.Wrap(apierr.KindCloudProvider, "deprovision entry point failed", err)
			}
		}
		return true, nil
	}

	report.Status = StatusInsufficient
	_ = w.writeReport(report)
	w.log.WithFields(map[string]interface{}{"service_id": w.cfg.ServiceID, "consecutive_failures": w.consecutiveFailures, "threshold": w.cfg.MaxConsecutiveFailures}).Warn("escrow balance insufficient")
	return false, nil
}

// periodsRemaining computes balance/rate, saturating at math.MaxUint64.
func periodsRemaining(balance, rate *big.Int) uint64 {
	if rate.Sign() == 0 {
		return math.MaxUint64
	}
	q := new(big.Int).Div(balance, rate)
	if !q.IsUint64() {
		return math.MaxUint64
	}
	return q.Uint64()
}
