package internal

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/balancecache/config"
	"github.com/vadiminshakov/balancecache/internal/clients"
	"github.com/vadiminshakov/balancecache/internal/services/balancecache"
	"github.com/vadiminshakov/balancecache/internal/services/balancesource"
)

// newClient builds the platform client of the configured live source.
func newClient(conf config.SourceConfig) (any, error) {
	switch conf.Kind {
	case config.SourceREST:
		return clients.NewWalletClient(conf.URL, conf.APIKey, conf.Timeout), nil
	case config.SourceBinance:
		return clients.NewBinanceClient(conf.APIKey, conf.APISecret, conf.URL), nil
	case config.SourceBybit:
		return clients.NewBybitClient(conf.APIKey, conf.APISecret, conf.URL), nil
	case config.SourceHyperliquid:
		c, err := clients.NewHyperliquidClient(conf.PrivateKey, conf.URL)
		if err != nil {
			return nil, errors.Wrap(err, "create hyperliquid client")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported source kind: %s", conf.Kind)
	}
}

// newBalanceSource creates the live balance source based on the client type.
// This is the single point of truth for dispatching to platform-specific implementations.
func newBalanceSource(client any) (balancecache.BalanceSource, error) {
	switch c := client.(type) {
	case *clients.WalletClient:
		return balancesource.NewWalletSource(c), nil
	case *binance.Client:
		return balancesource.NewBinanceSource(c), nil
	case *bybit.Client:
		return balancesource.NewBybitSource(c), nil
	case *clients.HyperliquidClient:
		return balancesource.NewHyperliquidSource(c), nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}
