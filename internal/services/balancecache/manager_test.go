package balancecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/balancecache/internal/domain"
	"github.com/vadiminshakov/balancecache/pkg/retrier"
)

var (
	accA = domain.Account{ID: "acc-1", Network: "azore", PlanTier: domain.PlanPro}
	accB = domain.Account{ID: "acc-2", Network: "ethereum", PlanTier: domain.PlanPro}
)

func newTestManager(t *testing.T, source BalanceSource, persisted PersistedStore, backups []BackupGeneration, sink NotificationSink, opts ...Option) *Manager {
	t.Helper()

	opts = append([]Option{WithMirrorRetrier(retrier.New(retrier.WithMaxRetries(0)))}, opts...)
	m := NewManager(zap.NewNop(), source, persisted, backups, sink, opts...)
	m.SetAccount(accA)
	t.Cleanup(m.Close)

	return m
}

func liveSnapshot(s domain.BalanceSnapshot) bool {
	return s.SourceTier == domain.TierLive && s.Status == domain.StatusSuccess
}

func TestManager_Fetch_Live(t *testing.T) {
	src := staticSource(map[string]string{"AZE": "10.5"})
	m := newTestManager(t, src, nil, nil, nil)

	s := m.Fetch(context.Background(), accA, true)

	assert.Equal(t, domain.TierLive, s.SourceTier)
	assert.Equal(t, domain.StatusSuccess, s.Status)
	assert.Empty(t, s.StatusDetail)
	assert.Equal(t, "acc-1", s.OwnerID)
	assert.Equal(t, "azore", s.Network)
	assert.Equal(t, map[string]string{"AZE": "10.5", "cBRL": "0"}, s.Balances)
	assert.Equal(t, s, m.Snapshot())
	assert.Equal(t, "10.5", m.Amount("AZE"))
	assert.Equal(t, "0", m.Amount("BTC"))
	assert.Equal(t, domain.Status{State: domain.StateIdle, Source: domain.TierLive}, m.Status())
}

func TestManager_Fetch_ValidCacheSkipsLiveCall(t *testing.T) {
	clock := newFakeClock()
	src := staticSource(map[string]string{"AZE": "1"})
	m := newTestManager(t, src, nil, nil, nil, WithClock(clock.Now))

	m.Fetch(context.Background(), accA, false)
	m.Fetch(context.Background(), accA, false)
	assert.EqualValues(t, 1, src.calls.Load())

	m.Fetch(context.Background(), accA, true)
	assert.EqualValues(t, 2, src.calls.Load(), "forced fetch bypasses validity")

	clock.Advance(46 * time.Second)
	m.Fetch(context.Background(), accA, false)
	assert.EqualValues(t, 3, src.calls.Load(), "pro ttl is 45s")
}

func TestManager_Fetch_FallsBackToCacheFirst(t *testing.T) {
	var fail atomic.Bool
	src := &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		if fail.Load() {
			return domain.BalanceReading{}, errors.New("connection refused")
		}
		return domain.BalanceReading{Balances: map[string]string{"AZE": "7", "cBRL": "3"}}, nil
	}}
	persisted := &mockPersisted{}
	persisted.On("Save", mock.Anything, mock.Anything).Return(nil)
	backup := &mockBackup{}
	backup.On("Write", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m := newTestManager(t, src, persisted, []BackupGeneration{{Name: "current", Tier: domain.TierBackupCurrent, Store: backup}}, nil)

	first := m.Fetch(context.Background(), accA, true)
	require.True(t, liveSnapshot(first))

	fail.Store(true)
	s := m.Fetch(context.Background(), accA, true)

	assert.Equal(t, domain.TierCache, s.SourceTier)
	assert.Equal(t, domain.StatusDegraded, s.Status)
	assert.Contains(t, s.StatusDetail, "connection refused")
	assert.Equal(t, first.Balances, s.Balances)
	assert.Equal(t, first.CapturedAt, s.CapturedAt)
	persisted.AssertNotCalled(t, "Read", mock.Anything, mock.Anything)
	backup.AssertNotCalled(t, "Read", mock.Anything, mock.Anything)
}

func TestManager_Fetch_Persisted(t *testing.T) {
	captured := time.Unix(1_700_000_000, 0)
	persisted := &mockPersisted{}
	persisted.On("Read", mock.Anything, "acc-1").
		Return(domain.BalanceReading{Balances: map[string]string{"AZE": "4"}, CapturedAt: captured}, nil)
	backup := &mockBackup{}
	m := newTestManager(t, failingSource(errors.New("503")), persisted,
		[]BackupGeneration{{Name: "current", Tier: domain.TierBackupCurrent, Store: backup}}, nil)

	s := m.Fetch(context.Background(), accA, true)

	assert.Equal(t, domain.TierPersisted, s.SourceTier)
	assert.Equal(t, domain.StatusDegraded, s.Status)
	assert.Equal(t, captured, s.CapturedAt)
	assert.Equal(t, "4", s.Amount("AZE"))
	assert.Equal(t, "0", s.Amount("cBRL"))

	m.Close()
	backup.AssertNotCalled(t, "Read", mock.Anything, mock.Anything)
	backup.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything)
	persisted.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestManager_Fetch_BackupGenerationsInOrder(t *testing.T) {
	persisted := &mockPersisted{}
	persisted.On("Read", mock.Anything, "acc-1").Return(domain.BalanceReading{}, domain.ErrNotFound)

	current := &mockBackup{}
	current.On("Read", mock.Anything, "acc-1").Return(domain.BalanceReading{}, domain.ErrNotFound)
	legacy := &mockBackup{}
	legacy.On("Read", mock.Anything, "acc-1").
		Return(domain.BalanceReading{Balances: map[string]string{"AZE": "2", "cBRL": "1"}}, nil)

	m := newTestManager(t, failingSource(errors.New("timeout")), persisted, []BackupGeneration{
		{Name: "current", Tier: domain.TierBackupCurrent, Store: current},
		{Name: "legacy", Tier: domain.TierBackupLegacy, Store: legacy},
	}, nil)

	s := m.Fetch(context.Background(), accA, true)

	assert.Equal(t, domain.TierBackupLegacy, s.SourceTier)
	assert.Equal(t, domain.StatusDegraded, s.Status)
	assert.Contains(t, s.StatusDetail, "current backup")
	current.AssertExpectations(t)
	legacy.AssertExpectations(t)
}

func TestManager_Fetch_CurrentBackupWins(t *testing.T) {
	current := &mockBackup{}
	current.On("Read", mock.Anything, "acc-1").
		Return(domain.BalanceReading{Balances: map[string]string{"AZE": "9"}}, nil)
	legacy := &mockBackup{}

	m := newTestManager(t, failingSource(errors.New("timeout")), nil, []BackupGeneration{
		{Name: "current", Tier: domain.TierBackupCurrent, Store: current},
		{Name: "legacy", Tier: domain.TierBackupLegacy, Store: legacy},
	}, nil)

	s := m.Fetch(context.Background(), accA, true)

	assert.Equal(t, domain.TierBackupCurrent, s.SourceTier)
	legacy.AssertNotCalled(t, "Read", mock.Anything, mock.Anything)
}

func TestManager_Fetch_EmergencyIsTerminalAndNeverMirrored(t *testing.T) {
	persisted := &mockPersisted{}
	persisted.On("Read", mock.Anything, mock.Anything).Return(domain.BalanceReading{}, errors.New("db down"))
	current := &mockBackup{}
	current.On("Read", mock.Anything, mock.Anything).Return(domain.BalanceReading{}, domain.ErrNotFound)
	legacy := &mockBackup{}
	legacy.On("Read", mock.Anything, mock.Anything).
		Return(domain.BalanceReading{Balances: map[string]string{}}, nil)

	m := newTestManager(t, failingSource(errors.New("unreachable")), persisted, []BackupGeneration{
		{Name: "current", Tier: domain.TierBackupCurrent, Store: current},
		{Name: "legacy", Tier: domain.TierBackupLegacy, Store: legacy},
	}, nil)
	m.SetAccount(accB)

	s := m.Fetch(context.Background(), accB, true)

	assert.Equal(t, domain.TierEmergency, s.SourceTier)
	assert.Equal(t, domain.StatusEmergency, s.Status)
	assert.Equal(t, map[string]string{"ETH": "0", "cBRL": "0"}, s.Balances)
	assert.Contains(t, s.StatusDetail, "unreachable")
	assert.Contains(t, s.StatusDetail, "db down")

	m.Close()
	persisted.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	current.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything)
	legacy.AssertNotCalled(t, "Write", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_Fetch_NoSourceStillResolves(t *testing.T) {
	m := newTestManager(t, nil, nil, nil, nil)

	s := m.Fetch(context.Background(), accA, false)

	assert.Equal(t, domain.TierEmergency, s.SourceTier)
	assert.Equal(t, "0", s.Amount("AZE"))
	assert.Equal(t, "0", s.Amount("cBRL"))
}

func TestManager_Fetch_EmergencyIsNotServedFromCache(t *testing.T) {
	clock := newFakeClock()
	src := failingSource(errors.New("down"))
	m := newTestManager(t, src, nil, nil, nil, WithClock(clock.Now))

	m.Fetch(context.Background(), accA, false)
	m.Fetch(context.Background(), accA, false)

	assert.EqualValues(t, 2, src.calls.Load())
}

func TestManager_Fetch_InvalidLiveDataFallsThrough(t *testing.T) {
	src := staticSource(map[string]string{"AZE": "-3"})
	m := newTestManager(t, src, nil, nil, nil)

	s := m.Fetch(context.Background(), accA, true)

	assert.Equal(t, domain.TierEmergency, s.SourceTier)
	assert.Contains(t, s.StatusDetail, "negative amount")
}

func TestManager_Fetch_MirrorsLiveResults(t *testing.T) {
	persisted := &mockPersisted{}
	persisted.On("Save", mock.Anything, mock.MatchedBy(liveSnapshot)).Return(nil).Once()
	current := &mockBackup{}
	current.On("Write", mock.Anything, "acc-1", mock.MatchedBy(liveSnapshot)).Return(nil).Once()
	legacy := &mockBackup{}
	legacy.On("Write", mock.Anything, "acc-1", mock.MatchedBy(liveSnapshot)).Return(errors.New("legacy store read-only")).Once()

	m := newTestManager(t, staticSource(map[string]string{"AZE": "1"}), persisted, []BackupGeneration{
		{Name: "current", Tier: domain.TierBackupCurrent, Store: current},
		{Name: "legacy", Tier: domain.TierBackupLegacy, Store: legacy},
	}, nil)

	s := m.Fetch(context.Background(), accA, true)
	require.Equal(t, domain.TierLive, s.SourceTier, "mirror failures never fail the read")

	m.Close()
	persisted.AssertExpectations(t)
	current.AssertExpectations(t)
	legacy.AssertExpectations(t)
}

func TestManager_Fetch_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	src := &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		started <- struct{}{}
		<-release
		return domain.BalanceReading{Balances: map[string]string{"AZE": "5"}}, nil
	}}
	m := newTestManager(t, src, nil, nil, nil)

	var wg sync.WaitGroup
	results := make([]domain.BalanceSnapshot, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = m.Fetch(context.Background(), accA, true)
	}()
	<-started
	assert.Equal(t, domain.StateLoading, m.Status().State)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = m.Fetch(context.Background(), accA, true)
	}()
	time.Sleep(100 * time.Millisecond)

	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, src.calls.Load())
	assert.Equal(t, results[0], results[1])
	assert.Equal(t, domain.TierLive, results[0].SourceTier)
}

func TestManager_Fetch_UpdatingWhileStaleDataServed(t *testing.T) {
	var block atomic.Bool
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	src := &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		if block.Load() {
			started <- struct{}{}
			<-release
		}
		return domain.BalanceReading{Balances: map[string]string{"AZE": "5"}}, nil
	}}
	m := newTestManager(t, src, nil, nil, nil)
	m.Fetch(context.Background(), accA, true)

	block.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Fetch(context.Background(), accA, true)
	}()
	<-started

	assert.Equal(t, domain.StateUpdating, m.Status().State)
	assert.Equal(t, "5", m.Amount("AZE"))

	close(release)
	<-done
	assert.Equal(t, domain.StateIdle, m.Status().State)
}

func TestManager_Fetch_SafetyTimeoutReleasesGuard(t *testing.T) {
	hang := make(chan struct{})
	t.Cleanup(func() { close(hang) })
	src := &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		<-hang
		return domain.BalanceReading{Balances: map[string]string{"AZE": "1"}}, nil
	}}
	m := newTestManager(t, src, nil, nil, nil, WithSafetyTimeout(50*time.Millisecond))

	start := time.Now()
	s := m.Fetch(context.Background(), accA, true)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, domain.TierEmergency, s.SourceTier)
	assert.Contains(t, s.StatusDetail, ErrSourceTimeout.Error())

	m.Fetch(context.Background(), accA, true)
	assert.EqualValues(t, 2, src.calls.Load(), "a hung call does not block later fetches")
}

func TestManager_Fetch_CallerCancellation(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	src := &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		<-release
		return domain.BalanceReading{Balances: map[string]string{"AZE": "1"}}, nil
	}}
	m := newTestManager(t, src, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	s := m.Fetch(ctx, accA, true)
	assert.Equal(t, domain.TierEmergency, s.SourceTier)
	assert.Equal(t, "acc-1", s.OwnerID)
}

func TestManager_AccountSwitchDiscardsStaleFetch(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	src := &countingSource{fn: func(_ context.Context, accountID, _ string) (domain.BalanceReading, error) {
		if accountID == accA.ID {
			started <- struct{}{}
			<-release
		}
		return domain.BalanceReading{Balances: map[string]string{"AZE": "5"}}, nil
	}}
	sink := &recordingSink{}
	m := newTestManager(t, src, nil, nil, sink)

	resCh := make(chan domain.BalanceSnapshot, 1)
	go func() {
		resCh <- m.Fetch(context.Background(), accA, true)
	}()
	<-started

	m.SetAccount(accB)
	close(release)
	res := <-resCh

	assert.Equal(t, accA.ID, res.OwnerID)
	assert.Equal(t, accB.ID, m.Snapshot().OwnerID)
	assert.Equal(t, domain.TierEmergency, m.Snapshot().SourceTier)
	assert.Equal(t, domain.StateLoading, m.Status().State)
	assert.Empty(t, sink.Snapshots())
}

func TestManager_AccountSwitchInvalidatesCache(t *testing.T) {
	src := staticSource(map[string]string{"AZE": "5"})
	m := newTestManager(t, src, nil, nil, nil)
	m.Fetch(context.Background(), accA, true)

	m.SetAccount(accB)

	assert.Equal(t, "0", m.Amount("AZE"))
	assert.Equal(t, domain.StateLoading, m.Status().State)

	m.Fetch(context.Background(), accB, false)
	assert.EqualValues(t, 2, src.calls.Load())
}

func TestManager_NetworkSwitchInvalidatesCache(t *testing.T) {
	src := &countingSource{fn: func(_ context.Context, _, network string) (domain.BalanceReading, error) {
		if network == "ethereum" {
			return domain.BalanceReading{Balances: map[string]string{"ETH": "1"}}, nil
		}
		return domain.BalanceReading{Balances: map[string]string{"AZE": "10", "cBRL": "5"}}, nil
	}}
	sink := &recordingSink{}
	m := newTestManager(t, src, nil, nil, sink)
	ctx := context.Background()

	m.Refresh(ctx, false)
	require.EqualValues(t, 1, src.calls.Load())

	m.SetAccount(domain.Account{ID: "acc-1", Network: "ethereum", PlanTier: domain.PlanPro})

	assert.Equal(t, domain.StateLoading, m.Status().State)
	assert.Equal(t, "ethereum", m.Snapshot().Network)
	assert.Equal(t, "0", m.Amount("AZE"))

	s := m.Refresh(ctx, false)
	assert.EqualValues(t, 2, src.calls.Load(), "cache of the previous network is not valid")
	assert.Equal(t, domain.TierLive, s.SourceTier)
	assert.Equal(t, "ethereum", s.Network)
	assert.Equal(t, map[string]string{"ETH": "1", "cBRL": "0"}, s.Balances)

	m.Refresh(ctx, true)
	assert.Empty(t, sink.Events(), "no diff across networks")
}

func TestManager_Fetch_SkipsStoredBalancesOfAnotherNetwork(t *testing.T) {
	accEth := domain.Account{ID: "acc-1", Network: "ethereum", PlanTier: domain.PlanPro}

	persisted := &mockPersisted{}
	persisted.On("Read", mock.Anything, "acc-1").
		Return(domain.BalanceReading{Network: "azore", Balances: map[string]string{"AZE": "10"}}, nil)
	current := &mockBackup{}
	current.On("Read", mock.Anything, "acc-1").
		Return(domain.BalanceReading{Network: "Azore", Balances: map[string]string{"AZE": "10"}}, nil)
	legacy := &mockBackup{}
	legacy.On("Read", mock.Anything, "acc-1").
		Return(domain.BalanceReading{Balances: map[string]string{"ETH": "2"}}, nil)

	m := newTestManager(t, failingSource(errors.New("503")), persisted, []BackupGeneration{
		{Name: "current", Tier: domain.TierBackupCurrent, Store: current},
		{Name: "legacy", Tier: domain.TierBackupLegacy, Store: legacy},
	}, nil)
	m.SetAccount(accEth)

	s := m.Fetch(context.Background(), accEth, true)

	assert.Equal(t, domain.TierBackupLegacy, s.SourceTier)
	assert.Equal(t, "ethereum", s.Network)
	assert.Equal(t, map[string]string{"ETH": "2", "cBRL": "0"}, s.Balances)
	assert.Contains(t, s.StatusDetail, "another network")
	persisted.AssertExpectations(t)
	current.AssertExpectations(t)
}

func TestManager_ChangeEventsForwarded(t *testing.T) {
	var mu sync.Mutex
	current := map[string]string{"AZE": "10.000000", "cBRL": "5.000000"}
	src := &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		mu.Lock()
		defer mu.Unlock()
		return domain.BalanceReading{Balances: current}, nil
	}}
	sink := &recordingSink{}
	m := newTestManager(t, src, nil, nil, sink)

	m.Fetch(context.Background(), accA, true)
	assert.Empty(t, sink.Events(), "first observation emits nothing")

	mu.Lock()
	current = map[string]string{"AZE": "12.500000", "cBRL": "5.000000", "XYZ": "1.000000"}
	mu.Unlock()
	m.Fetch(context.Background(), accA, true)

	events := sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "AZE", events[0].Asset)
	assert.Equal(t, domain.ChangeIncrease, events[0].Kind)
	assert.Equal(t, "XYZ", events[1].Asset)
	assert.Equal(t, domain.ChangeNewAsset, events[1].Kind)
	assert.NotEmpty(t, events[0].ID)
	assert.NotEqual(t, events[0].ID, events[1].ID)
	assert.Len(t, sink.Snapshots(), 2)
}

func TestManager_StatusGoesStaleAfterRepeatedDegradation(t *testing.T) {
	var fail atomic.Bool
	src := &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		if fail.Load() {
			return domain.BalanceReading{}, errors.New("502 bad gateway")
		}
		return domain.BalanceReading{Balances: map[string]string{"AZE": "1"}}, nil
	}}
	m := newTestManager(t, src, nil, nil, nil, WithDegradedStaleAfter(2))
	m.Fetch(context.Background(), accA, true)

	fail.Store(true)
	m.Fetch(context.Background(), accA, true)
	st := m.Status()
	assert.Equal(t, 1, st.ConsecutiveDegraded)
	assert.False(t, st.Stale)
	assert.Equal(t, domain.TierCache, st.Source)
	assert.Contains(t, st.Error, "502 bad gateway")

	m.Fetch(context.Background(), accA, true)
	assert.True(t, m.Status().Stale)

	fail.Store(false)
	m.Fetch(context.Background(), accA, true)
	assert.Equal(t, domain.Status{State: domain.StateIdle, Source: domain.TierLive}, m.Status())
}

func TestManager_NoAccount(t *testing.T) {
	src := staticSource(map[string]string{"AZE": "1"})
	m := NewManager(zap.NewNop(), src, nil, nil, nil)

	s := m.Refresh(context.Background(), true)

	assert.Equal(t, domain.TierEmergency, s.SourceTier)
	assert.EqualValues(t, 0, src.calls.Load())
	assert.Equal(t, "0", m.Amount("AZE"))
	assert.Equal(t, domain.StateLoading, m.Status().State)
}

func TestManager_ClearAccount(t *testing.T) {
	m := newTestManager(t, staticSource(map[string]string{"AZE": "1"}), nil, nil, nil)
	m.Refresh(context.Background(), true)
	require.Equal(t, "1", m.Amount("AZE"))

	m.ClearAccount()

	_, ok := m.Account()
	assert.False(t, ok)
	assert.Equal(t, "0", m.Amount("AZE"))
}
