// Package detector turns balance snapshot transitions into change events.
package detector

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

// Epsilon smallest delta, in asset units, reported as a change.
// Absorbs rounding from upstream formatting.
var Epsilon = decimal.New(1, -6)

// Diff compares the previous accepted snapshot with the next one.
// A nil previous, or one taken for another account or network, is a first observation and yields no events.
// Events are ordered by asset symbol.
func Diff(previous *domain.BalanceSnapshot, next domain.BalanceSnapshot) []domain.ChangeEvent {
	if previous == nil || previous.OwnerID != next.OwnerID || !strings.EqualFold(previous.Network, next.Network) {
		return nil
	}

	events := make([]domain.ChangeEvent, 0)

	for _, asset := range next.Assets() {
		current := parseAmount(next.Balances[asset])

		prevRaw, existed := previous.Balances[asset]
		if !existed {
			if current.IsPositive() {
				events = append(events, newEvent(next, asset, "0", next.Balances[asset], current, domain.ChangeNewAsset))
			}
			continue
		}

		delta := current.Sub(parseAmount(prevRaw))
		if delta.Abs().LessThanOrEqual(Epsilon) {
			continue
		}

		kind := domain.ChangeIncrease
		if delta.IsNegative() {
			kind = domain.ChangeDecrease
		}
		events = append(events, newEvent(next, asset, prevRaw, next.Balances[asset], delta, kind))
	}

	for _, asset := range previous.Assets() {
		if _, ok := next.Balances[asset]; ok {
			continue
		}
		prev := parseAmount(previous.Balances[asset])
		events = append(events, newEvent(next, asset, previous.Balances[asset], "0", prev.Neg(), domain.ChangeRemoved))
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Asset < events[j].Asset
	})

	return events
}

func newEvent(next domain.BalanceSnapshot, asset, previous, current string, delta decimal.Decimal, kind domain.ChangeKind) domain.ChangeEvent {
	return domain.ChangeEvent{
		OwnerID:        next.OwnerID,
		Network:        next.Network,
		Asset:          asset,
		PreviousAmount: previous,
		CurrentAmount:  current,
		Delta:          delta,
		Kind:           kind,
		DetectedAt:     next.CapturedAt,
	}
}

// parseAmount treats unparseable amounts as zero.
func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
