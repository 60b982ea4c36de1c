package domain

import (
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound a store holds no balances for the account.
	ErrNotFound = errors.New("balances not found")
	// ErrEmptyBalances a tier answered with an empty balance table.
	ErrEmptyBalances = errors.New("empty balance table")
)

// SourceTier origin that supplied a snapshot.
type SourceTier string

const (
	TierLive          SourceTier = "live"
	TierCache         SourceTier = "cache"
	TierPersisted     SourceTier = "persisted"
	TierBackupCurrent SourceTier = "backupCurrent"
	TierBackupLegacy  SourceTier = "backupLegacy"
	TierEmergency     SourceTier = "emergency"
)

// String returns the string representation.
func (t SourceTier) String() string {
	return string(t)
}

// SnapshotStatus how trustworthy a snapshot is.
type SnapshotStatus string

const (
	// StatusSuccess data came from the live source.
	StatusSuccess SnapshotStatus = "success"
	// StatusDegraded a lower priority tier answered because a higher one failed.
	StatusDegraded SnapshotStatus = "degraded"
	// StatusEmergency no real data could be obtained, balances are synthetic zeros.
	StatusEmergency SnapshotStatus = "emergency"
)

// BalanceReading raw balance table returned by a source or a store.
type BalanceReading struct {
	Balances   map[string]string `json:"balances"`
	Network    string            `json:"network,omitempty"`
	CapturedAt time.Time         `json:"captured_at"`
}

// BalanceSnapshot immutable balance table of one account plus provenance.
// Amounts are decimal strings; they are parsed only for comparison.
type BalanceSnapshot struct {
	Balances     map[string]string `json:"balances"`
	Network      string            `json:"network"`
	OwnerID      string            `json:"owner_id"`
	CapturedAt   time.Time         `json:"captured_at"`
	SourceTier   SourceTier        `json:"source_tier"`
	Status       SnapshotStatus    `json:"status"`
	StatusDetail string            `json:"status_detail,omitempty"`
}

// NewBalanceSnapshot creates a live, successful snapshot. The balances map is copied.
func NewBalanceSnapshot(ownerID, network string, balances map[string]string, capturedAt time.Time) BalanceSnapshot {
	return BalanceSnapshot{
		Balances:   cloneBalances(balances),
		Network:    network,
		OwnerID:    ownerID,
		CapturedAt: capturedAt,
		SourceTier: TierLive,
		Status:     StatusSuccess,
	}
}

// NewEmergencySnapshot synthesizes zero balances for the mandatory assets.
func NewEmergencySnapshot(ownerID, network string, assets []string, detail string, now time.Time) BalanceSnapshot {
	balances := make(map[string]string, len(assets))
	for _, asset := range assets {
		if asset == "" {
			continue
		}
		balances[asset] = "0"
	}

	return BalanceSnapshot{
		Balances:     balances,
		Network:      network,
		OwnerID:      ownerID,
		CapturedAt:   now,
		SourceTier:   TierEmergency,
		Status:       StatusEmergency,
		StatusDetail: detail,
	}
}

// WithSource returns a copy tagged with another tier and status.
func (s BalanceSnapshot) WithSource(tier SourceTier, status SnapshotStatus, detail string) BalanceSnapshot {
	out := s
	out.Balances = cloneBalances(s.Balances)
	out.SourceTier = tier
	out.Status = status
	out.StatusDetail = detail
	return out
}

// WithMandatoryAssets returns a copy where every listed asset is present, missing ones at "0".
func (s BalanceSnapshot) WithMandatoryAssets(assets ...string) BalanceSnapshot {
	out := s
	out.Balances = cloneBalances(s.Balances)
	for _, asset := range assets {
		if asset == "" {
			continue
		}
		if _, ok := out.Balances[asset]; !ok {
			out.Balances[asset] = "0"
		}
	}
	return out
}

// Amount returns the amount of the asset or "0" when absent.
func (s BalanceSnapshot) Amount(asset string) string {
	if amount, ok := s.Balances[asset]; ok && amount != "" {
		return amount
	}
	return "0"
}

// Assets returns sorted asset symbols.
func (s BalanceSnapshot) Assets() []string {
	assets := make([]string, 0, len(s.Balances))
	for asset := range s.Balances {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets
}

// IsEmpty reports whether the snapshot has no balances.
func (s BalanceSnapshot) IsEmpty() bool {
	return len(s.Balances) == 0
}

// ValidateBalances checks a balance table coming from outside:
// non-empty symbols, non-negative decimal amounts, at least one entry.
func ValidateBalances(balances map[string]string) error {
	if len(balances) == 0 {
		return ErrEmptyBalances
	}
	for asset, amount := range balances {
		if strings.TrimSpace(asset) == "" {
			return errors.New("balance table contains an empty asset symbol")
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return errors.Wrapf(err, "invalid amount %q for %s", amount, asset)
		}
		if d.IsNegative() {
			return errors.Errorf("negative amount %s for %s", amount, asset)
		}
	}
	return nil
}

func cloneBalances(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
