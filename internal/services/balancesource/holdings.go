// Package balancesource implements live balance sources: the platform wallet
// API and the spot wallets of supported exchanges.
package balancesource

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// holding one balance line as reported by a venue.
type holding struct {
	asset  string
	amount string
}

// sumHoldings folds venue lines into a balance table. Lines of the same asset
// are added up, zero totals are dropped.
func sumHoldings(hs []holding) (map[string]string, error) {
	totals := make(map[string]decimal.Decimal, len(hs))
	for _, h := range hs {
		asset := strings.TrimSpace(h.asset)
		if asset == "" {
			continue
		}
		amount := strings.TrimSpace(h.amount)
		if amount == "" {
			continue
		}
		d, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s amount %q", asset, amount)
		}
		totals[asset] = totals[asset].Add(d)
	}

	balances := make(map[string]string, len(totals))
	for asset, total := range totals {
		if total.IsZero() {
			continue
		}
		balances[asset] = total.String()
	}

	return balances, nil
}
