package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChangeKind kind of balance transition.
type ChangeKind string

const (
	ChangeNewAsset ChangeKind = "new_asset"
	ChangeIncrease ChangeKind = "increase"
	ChangeDecrease ChangeKind = "decrease"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeEvent balance transition of one asset. Created right after a snapshot
// is accepted and consumed once by a notification sink.
type ChangeEvent struct {
	ID             string          `json:"id"`
	OwnerID        string          `json:"owner_id"`
	Network        string          `json:"network"`
	Asset          string          `json:"asset"`
	PreviousAmount string          `json:"previous_amount"`
	CurrentAmount  string          `json:"current_amount"`
	Delta          decimal.Decimal `json:"delta"`
	Kind           ChangeKind      `json:"kind"`
	DetectedAt     time.Time       `json:"detected_at"`
}
