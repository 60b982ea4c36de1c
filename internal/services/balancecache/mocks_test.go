package balancecache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

// countingSource live source backed by a function, counting calls.
type countingSource struct {
	calls atomic.Int32
	fn    func(ctx context.Context, accountID, network string) (domain.BalanceReading, error)
}

func (s *countingSource) Read(ctx context.Context, accountID, network string) (domain.BalanceReading, error) {
	s.calls.Add(1)
	return s.fn(ctx, accountID, network)
}

func staticSource(balances map[string]string) *countingSource {
	return &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		return domain.BalanceReading{Balances: balances}, nil
	}}
}

func failingSource(err error) *countingSource {
	return &countingSource{fn: func(context.Context, string, string) (domain.BalanceReading, error) {
		return domain.BalanceReading{}, err
	}}
}

type mockPersisted struct {
	mock.Mock
}

func (m *mockPersisted) Read(ctx context.Context, accountID string) (domain.BalanceReading, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(domain.BalanceReading), args.Error(1)
}

func (m *mockPersisted) Save(ctx context.Context, snapshot domain.BalanceSnapshot) error {
	return m.Called(ctx, snapshot).Error(0)
}

type mockBackup struct {
	mock.Mock
}

func (m *mockBackup) Read(ctx context.Context, accountID string) (domain.BalanceReading, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(domain.BalanceReading), args.Error(1)
}

func (m *mockBackup) Write(ctx context.Context, accountID string, snapshot domain.BalanceSnapshot) error {
	return m.Called(ctx, accountID, snapshot).Error(0)
}

// recordingSink collects everything published to it.
type recordingSink struct {
	mu        sync.Mutex
	events    []domain.ChangeEvent
	snapshots []domain.BalanceSnapshot
}

func (s *recordingSink) Publish(e domain.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) PublishSnapshot(snapshot domain.BalanceSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
}

func (s *recordingSink) Events() []domain.ChangeEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChangeEvent(nil), s.events...)
}

func (s *recordingSink) Snapshots() []domain.BalanceSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.BalanceSnapshot(nil), s.snapshots...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
