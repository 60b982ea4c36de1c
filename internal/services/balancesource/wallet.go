package balancesource

import (
	"context"

	"github.com/vadiminshakov/balancecache/internal/clients"
	"github.com/vadiminshakov/balancecache/internal/domain"
)

type walletAPI interface {
	GetBalances(ctx context.Context, accountID, network string) (clients.WalletBalances, error)
}

// WalletSource reads balances from the platform wallet API.
type WalletSource struct {
	api walletAPI
}

// NewWalletSource creates a source over the wallet API client.
func NewWalletSource(api walletAPI) *WalletSource {
	return &WalletSource{api: api}
}

// Read implements balancecache.BalanceSource.
func (s *WalletSource) Read(ctx context.Context, accountID, network string) (domain.BalanceReading, error) {
	res, err := s.api.GetBalances(ctx, accountID, network)
	if err != nil {
		return domain.BalanceReading{}, err
	}

	return domain.BalanceReading{
		Balances:   res.Balances,
		Network:    res.Network,
		CapturedAt: res.CapturedAt,
	}, nil
}
