// Package storage holds the on-disk and on-wire form of balance snapshots
// shared by the persisted store and every backup generation.
package storage

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

// Record stored form of a snapshot. Only balances and their provenance are
// kept; source tier and status are a property of the read, not of the data.
type Record struct {
	OwnerID    string            `json:"owner_id"`
	Network    string            `json:"network"`
	Balances   map[string]string `json:"balances"`
	CapturedAt time.Time         `json:"captured_at"`
	SavedAt    time.Time         `json:"saved_at"`
}

// NewRecord converts a snapshot into its stored form.
func NewRecord(s domain.BalanceSnapshot, savedAt time.Time) Record {
	balances := make(map[string]string, len(s.Balances))
	for asset, amount := range s.Balances {
		balances[asset] = amount
	}

	return Record{
		OwnerID:    s.OwnerID,
		Network:    s.Network,
		Balances:   balances,
		CapturedAt: s.CapturedAt,
		SavedAt:    savedAt,
	}
}

// Reading converts the record back into a reading for the cache.
func (r Record) Reading() domain.BalanceReading {
	return domain.BalanceReading{
		Balances:   r.Balances,
		Network:    r.Network,
		CapturedAt: r.CapturedAt,
	}
}

// Encode marshals the record.
func Encode(r Record) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "encode balance record")
	}
	return payload, nil
}

// Decode unmarshals a record and checks that it belongs to ownerID.
// An empty ownerID skips the check.
func Decode(payload []byte, ownerID string) (Record, error) {
	if len(payload) == 0 {
		return Record{}, domain.ErrNotFound
	}

	var r Record
	if err := json.Unmarshal(payload, &r); err != nil {
		return Record{}, errors.Wrap(err, "decode balance record")
	}
	if ownerID != "" && r.OwnerID != ownerID {
		return Record{}, domain.ErrNotFound
	}

	return r, nil
}
