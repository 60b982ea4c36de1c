package balancesource

import (
	"context"
	"strings"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/balancecache/internal/clients"
	"github.com/vadiminshakov/balancecache/internal/domain"
)

// ExchangeSource reads the spot wallet of an exchange account. The account is
// selected by the client credentials, so the account id passed to Read is only
// used for logging by the caller.
type ExchangeSource struct {
	venue string
	fetch func(ctx context.Context) ([]holding, error)
}

// Venue returns the exchange name.
func (s *ExchangeSource) Venue() string {
	return s.venue
}

// Read implements balancecache.BalanceSource.
func (s *ExchangeSource) Read(ctx context.Context, _ string, network string) (domain.BalanceReading, error) {
	hs, err := s.fetch(ctx)
	if err != nil {
		return domain.BalanceReading{}, errors.Wrapf(err, "%s balances", s.venue)
	}

	balances, err := sumHoldings(hs)
	if err != nil {
		return domain.BalanceReading{}, errors.Wrapf(err, "%s balances", s.venue)
	}

	return domain.BalanceReading{Balances: balances, Network: network}, nil
}

// NewBinanceSource reads free and locked spot balances.
func NewBinanceSource(client *binance.Client) *ExchangeSource {
	return &ExchangeSource{
		venue: "binance",
		fetch: func(ctx context.Context) ([]holding, error) {
			account, err := client.NewGetAccountService().Do(ctx)
			if err != nil {
				return nil, errors.Wrap(err, "failed to get binance account balance")
			}
			return binanceHoldings(account), nil
		},
	}
}

func binanceHoldings(account *binance.Account) []holding {
	if account == nil {
		return nil
	}

	hs := make([]holding, 0, len(account.Balances)*2)
	for _, b := range account.Balances {
		hs = append(hs, holding{asset: b.Asset, amount: b.Free}, holding{asset: b.Asset, amount: b.Locked})
	}
	return hs
}

// NewBybitSource reads the unified trading account wallet.
func NewBybitSource(client *bybit.Client) *ExchangeSource {
	return &ExchangeSource{
		venue: "bybit",
		fetch: func(ctx context.Context) ([]holding, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			res, err := client.V5().Account().GetWalletBalance(bybit.AccountTypeV5("UNIFIED"), nil)
			if err != nil {
				return nil, errors.Wrap(err, "failed to get bybit wallet balance")
			}

			var hs []holding
			for _, account := range res.Result.List {
				for _, coin := range account.Coin {
					hs = append(hs, holding{asset: string(coin.Coin), amount: coin.WalletBalance})
				}
			}
			return hs, nil
		},
	}
}

// NewHyperliquidSource reads spot balances of the client account address.
func NewHyperliquidSource(client *clients.HyperliquidClient) *ExchangeSource {
	info := client.Info()
	addr := client.AccountAddress()

	return &ExchangeSource{
		venue: "hyperliquid",
		fetch: func(ctx context.Context) ([]holding, error) {
			st, err := info.SpotUserState(ctx, addr)
			if err != nil {
				return nil, errors.Wrap(err, "get spot user state")
			}

			hs := make([]holding, 0, len(st.Balances))
			for _, b := range st.Balances {
				hs = append(hs, holding{asset: strings.ToUpper(b.Coin), amount: b.Total})
			}
			return hs, nil
		},
	}
}
