package balancecache

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

var (
	// ErrSourceTimeout the live source did not answer within the safety timeout.
	ErrSourceTimeout = errors.New("live source timed out")
	// ErrNetworkMismatch balances were recorded for another network of the account.
	ErrNetworkMismatch = errors.New("balances belong to another network")
)

// fetchChain tries live, cache, persisted, every backup generation and finally
// the emergency default, stopping at the first tier with usable data.
func (m *Manager) fetchChain(ctx context.Context, l *zap.Logger, acc domain.Account) domain.BalanceSnapshot {
	mandatory := m.assets.Mandatory(acc.Network)

	reading, err := m.readLive(ctx, acc)
	if err == nil {
		capturedAt := reading.CapturedAt
		if capturedAt.IsZero() {
			capturedAt = m.now()
		}
		return domain.NewBalanceSnapshot(acc.ID, acc.Network, reading.Balances, capturedAt).
			WithMandatoryAssets(mandatory...)
	}

	reasons := []string{fmt.Sprintf("live source: %v", err)}
	l.Warn("live balance source failed, falling back", zap.Error(err))

	if cached, ok := m.cachedFor(acc); ok {
		return cached.
			WithSource(domain.TierCache, domain.StatusDegraded, detail(reasons, "serving cached balances")).
			WithMandatoryAssets(mandatory...)
	}

	if m.persisted != nil {
		reading, err := m.readStore(ctx, m.persisted.Read, acc)
		if err == nil {
			return m.fromReading(acc, reading, domain.TierPersisted, detail(reasons, "serving persisted balances")).
				WithMandatoryAssets(mandatory...)
		}
		reasons = append(reasons, fmt.Sprintf("persisted store: %v", err))
		l.Debug("persisted balances unavailable", zap.Error(err))
	}

	for _, gen := range m.backups {
		reading, err := m.readStore(ctx, gen.Store.Read, acc)
		if err == nil {
			msg := fmt.Sprintf("serving balances from %s backup", gen.Name)
			return m.fromReading(acc, reading, gen.Tier, detail(reasons, msg)).
				WithMandatoryAssets(mandatory...)
		}
		reasons = append(reasons, fmt.Sprintf("%s backup: %v", gen.Name, err))
		l.Debug("backup balances unavailable", zap.String("backup", gen.Name), zap.Error(err))
	}

	l.Error("no balance tier answered, serving emergency defaults", zap.Strings("reasons", reasons))
	return domain.NewEmergencySnapshot(acc.ID, acc.Network, mandatory, detail(reasons, "balances are not authoritative"), m.now())
}

// readLive calls the source in its own goroutine so a hung call cannot outlive
// the safety timeout. On timeout the single-flight slot of the owner is
// released so later fetches are not blocked.
func (m *Manager) readLive(ctx context.Context, acc domain.Account) (domain.BalanceReading, error) {
	if m.source == nil {
		return domain.BalanceReading{}, errors.New("no live source configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, m.safetyTimeout)
	defer cancel()

	type result struct {
		reading domain.BalanceReading
		err     error
	}
	done := make(chan result, 1)
	go func() {
		reading, err := m.source.Read(callCtx, acc.ID, acc.Network)
		done <- result{reading: reading, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return domain.BalanceReading{}, res.err
		}
		if err := checkReading(res.reading, acc); err != nil {
			return domain.BalanceReading{}, err
		}
		return res.reading, nil
	case <-callCtx.Done():
		m.group.Forget(acc.ID)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return domain.BalanceReading{}, ErrSourceTimeout
		}
		return domain.BalanceReading{}, callCtx.Err()
	}
}

func (m *Manager) readStore(
	ctx context.Context,
	read func(ctx context.Context, accountID string) (domain.BalanceReading, error),
	acc domain.Account,
) (domain.BalanceReading, error) {
	ctx, cancel := context.WithTimeout(ctx, m.storeTimeout)
	defer cancel()

	reading, err := read(ctx, acc.ID)
	if err != nil {
		return domain.BalanceReading{}, err
	}
	if err := checkReading(reading, acc); err != nil {
		return domain.BalanceReading{}, err
	}
	return reading, nil
}

// checkReading rejects invalid amounts and readings tagged with another network.
// An untagged reading is taken as belonging to the requested network.
func checkReading(reading domain.BalanceReading, acc domain.Account) error {
	if err := domain.ValidateBalances(reading.Balances); err != nil {
		return err
	}
	if reading.Network != "" && !sameNetwork(reading.Network, acc.Network) {
		return errors.Wrapf(ErrNetworkMismatch, "recorded for %s, requested %s", reading.Network, acc.Network)
	}
	return nil
}

// cachedFor returns the cached snapshot of acc when it holds real balances.
func (m *Manager) cachedFor(acc domain.Account) (domain.BalanceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.state.snapshot
	if !belongsTo(s, acc) || s.IsEmpty() || s.Status == domain.StatusEmergency {
		return domain.BalanceSnapshot{}, false
	}
	return *s, true
}

func (m *Manager) fromReading(acc domain.Account, reading domain.BalanceReading, tier domain.SourceTier, msg string) domain.BalanceSnapshot {
	capturedAt := reading.CapturedAt
	if capturedAt.IsZero() {
		capturedAt = m.now()
	}
	return domain.NewBalanceSnapshot(acc.ID, acc.Network, reading.Balances, capturedAt).
		WithSource(tier, domain.StatusDegraded, msg)
}

func detail(reasons []string, outcome string) string {
	return fmt.Sprintf("%s; %s", strings.Join(reasons, "; "), outcome)
}
