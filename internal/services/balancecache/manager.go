// Package balancecache keeps the balance snapshot of the active account and
// sources it through a fallback chain when the live source is degraded.
package balancecache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vadiminshakov/balancecache/internal/domain"
	"github.com/vadiminshakov/balancecache/internal/services/detector"
	"github.com/vadiminshakov/balancecache/pkg/retrier"
)

const (
	defaultSafetyTimeout      = 10 * time.Second
	defaultStoreTimeout       = 5 * time.Second
	defaultMirrorTimeout      = 2 * time.Minute
	defaultDegradedStaleAfter = 3
)

// Manager single owner of the cache state of one session.
type Manager struct {
	l         *zap.Logger
	source    BalanceSource
	persisted PersistedStore
	backups   []BackupGeneration
	sink      NotificationSink

	policies           domain.PolicyTable
	assets             domain.Assets
	safetyTimeout      time.Duration
	storeTimeout       time.Duration
	mirrorTimeout      time.Duration
	degradedStaleAfter int
	mirrorRetrier      *retrier.Retrier
	now                func() time.Time

	group singleflight.Group

	mu                  sync.RWMutex
	account             domain.Account
	state               cacheState
	lastError           string
	consecutiveDegraded int
	sessionChanged      chan struct{}

	mirrors sync.WaitGroup
}

// Option configures the Manager.
type Option func(*Manager)

// WithPolicies overrides the plan tier policy table.
func WithPolicies(p domain.PolicyTable) Option {
	return func(m *Manager) {
		if len(p) > 0 {
			m.policies = p
		}
	}
}

// WithAssets sets the mandatory assets.
func WithAssets(a domain.Assets) Option {
	return func(m *Manager) {
		m.assets = a
	}
}

// WithSafetyTimeout sets the ceiling after which a pending live call counts as failed.
func WithSafetyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.safetyTimeout = d
		}
	}
}

// WithStoreTimeout bounds every persisted and backup read.
func WithStoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.storeTimeout = d
		}
	}
}

// WithMirrorRetrier sets the retrier used for background writes.
func WithMirrorRetrier(r *retrier.Retrier) Option {
	return func(m *Manager) {
		if r != nil {
			m.mirrorRetrier = r
		}
	}
}

// WithDegradedStaleAfter sets how many degraded accepts in a row mark the status stale.
func WithDegradedStaleAfter(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.degradedStaleAfter = n
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a manager. persisted and sink may be nil.
func NewManager(
	l *zap.Logger,
	source BalanceSource,
	persisted PersistedStore,
	backups []BackupGeneration,
	sink NotificationSink,
	opts ...Option,
) *Manager {
	if l == nil {
		l = zap.NewNop()
	}

	m := &Manager{
		l:                  l,
		source:             source,
		persisted:          persisted,
		backups:            backups,
		sink:               sink,
		policies:           domain.DefaultPolicies(),
		assets:             domain.DefaultAssets(),
		safetyTimeout:      defaultSafetyTimeout,
		storeTimeout:       defaultStoreTimeout,
		mirrorTimeout:      defaultMirrorTimeout,
		degradedStaleAfter: defaultDegradedStaleAfter,
		now:                time.Now,
		sessionChanged:     make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.mirrorRetrier == nil {
		m.mirrorRetrier = retrier.New(
			retrier.WithMaxRetries(3),
			retrier.WithOnRetry(func(attempt int, err error) {
				m.l.Debug("retrying balance mirror", zap.Int("attempt", attempt), zap.Error(err))
			}),
		)
	}

	return m
}

// SetAccount makes acc the active account. Switching to another account or
// network drops the cache.
func (m *Manager) SetAccount(acc domain.Account) {
	m.mu.Lock()
	if m.account.ID != acc.ID || !sameNetwork(m.account.Network, acc.Network) {
		m.resetLocked()
	}
	m.account = acc
	m.mu.Unlock()

	m.l.Info("active account set",
		zap.String("account", acc.ID),
		zap.String("network", acc.Network),
		zap.String("plan", acc.PlanTier.String()))
	m.notifySession()
}

// SetPlanTier changes the plan of the active account.
func (m *Manager) SetPlanTier(tier domain.PlanTier) {
	m.mu.Lock()
	changed := m.account.PlanTier != tier
	m.account.PlanTier = tier
	m.mu.Unlock()

	if changed {
		m.l.Info("plan tier changed", zap.String("plan", tier.String()))
		m.notifySession()
	}
}

// ClearAccount ends the session and drops the cache.
func (m *Manager) ClearAccount() {
	m.mu.Lock()
	m.account = domain.Account{}
	m.resetLocked()
	m.mu.Unlock()

	m.l.Info("session cleared")
	m.notifySession()
}

// Account returns the active account.
func (m *Manager) Account() (domain.Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account, !m.account.IsZero()
}

// Policies returns the policy table in use.
func (m *Manager) Policies() domain.PolicyTable {
	return m.policies
}

// SessionChanged fires after every account, plan or logout change.
func (m *Manager) SessionChanged() <-chan struct{} {
	return m.sessionChanged
}

func (m *Manager) notifySession() {
	select {
	case m.sessionChanged <- struct{}{}:
	default:
	}
}

func (m *Manager) resetLocked() {
	m.state.snapshot = nil
	m.state.updatedAt = time.Time{}
	m.lastError = ""
	m.consecutiveDegraded = 0
}

// Snapshot returns the last accepted snapshot of the active account.
// Before anything was accepted it returns a synthetic emergency snapshot.
func (m *Manager) Snapshot() domain.BalanceSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if s := m.state.snapshot; belongsTo(s, m.account) {
		return *s
	}
	return domain.NewEmergencySnapshot(
		m.account.ID,
		m.account.Network,
		m.assets.Mandatory(m.account.Network),
		"no balance data obtained yet",
		m.now(),
	)
}

// Amount returns the amount of the asset in the current snapshot, "0" when absent.
func (m *Manager) Amount(asset string) string {
	return m.Snapshot().Amount(asset)
}

// Status returns the cache activity and provenance.
func (m *Manager) Status() domain.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := domain.Status{
		State:               domain.StateIdle,
		Error:               m.lastError,
		ConsecutiveDegraded: m.consecutiveDegraded,
		Stale:               m.consecutiveDegraded >= m.degradedStaleAfter,
	}

	s := m.state.snapshot
	switch {
	case !belongsTo(s, m.account):
		st.State = domain.StateLoading
	case m.state.inFlight > 0:
		st.State = domain.StateUpdating
	}
	if belongsTo(s, m.account) {
		st.Source = s.SourceTier
	}

	return st
}

// Refresh fetches balances of the active account.
func (m *Manager) Refresh(ctx context.Context, force bool) domain.BalanceSnapshot {
	acc, ok := m.Account()
	if !ok {
		return m.Snapshot()
	}
	return m.Fetch(ctx, acc, force)
}

// Fetch returns balances of acc. It never fails: when every tier is down the
// result is an emergency snapshot. Concurrent fetches for the same owner share
// one chain run. Unless forced, a valid cached snapshot is returned as is.
func (m *Manager) Fetch(ctx context.Context, acc domain.Account, force bool) domain.BalanceSnapshot {
	if !force {
		if s, ok := m.validSnapshot(acc); ok {
			return s
		}
	}

	fetchID := uuid.NewString()
	ch := m.group.DoChan(acc.ID, func() (interface{}, error) {
		return m.run(context.WithoutCancel(ctx), acc, fetchID), nil
	})

	select {
	case res := <-ch:
		if s, ok := res.Val.(domain.BalanceSnapshot); ok {
			return s
		}
		return m.fallbackSnapshot(acc)
	case <-ctx.Done():
		m.l.Debug("fetch abandoned by caller", zap.String("account", acc.ID), zap.Error(ctx.Err()))
		return m.fallbackSnapshot(acc)
	}
}

func (m *Manager) validSnapshot(acc domain.Account) (domain.BalanceSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := m.state.snapshot
	if s == nil || s.Status == domain.StatusEmergency {
		return domain.BalanceSnapshot{}, false
	}
	if !IsValid(s, acc, m.policies, m.now()) {
		return domain.BalanceSnapshot{}, false
	}
	return *s, true
}

// fallbackSnapshot current snapshot of acc or a synthetic one.
func (m *Manager) fallbackSnapshot(acc domain.Account) domain.BalanceSnapshot {
	m.mu.RLock()
	s := m.state.snapshot
	m.mu.RUnlock()

	if belongsTo(s, acc) {
		return *s
	}
	return domain.NewEmergencySnapshot(acc.ID, acc.Network, m.assets.Mandatory(acc.Network), "no balance data obtained yet", m.now())
}

func (m *Manager) run(ctx context.Context, acc domain.Account, fetchID string) domain.BalanceSnapshot {
	m.mu.Lock()
	m.state.inFlight++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.state.inFlight--
		m.mu.Unlock()
	}()

	l := m.l.With(zap.String("fetch_id", fetchID), zap.String("account", acc.ID))
	next := m.fetchChain(ctx, l, acc)
	return m.accept(l, acc, next)
}

// accept commits next into the cache, forwards change events and mirrors live results.
// Results for an account or network that is no longer active are returned but not committed.
func (m *Manager) accept(l *zap.Logger, acc domain.Account, next domain.BalanceSnapshot) domain.BalanceSnapshot {
	m.mu.Lock()
	if m.account.ID != acc.ID || !sameNetwork(m.account.Network, acc.Network) {
		m.mu.Unlock()
		l.Info("discarding balances of inactive account", zap.String("tier", next.SourceTier.String()))
		return next
	}

	var previous *domain.BalanceSnapshot
	if s := m.state.snapshot; belongsTo(s, acc) && s.Status != domain.StatusEmergency {
		previous = s
	}
	events := detector.Diff(previous, next)

	committed := next
	m.state.snapshot = &committed
	m.state.updatedAt = m.now()
	if next.Status == domain.StatusSuccess {
		m.consecutiveDegraded = 0
		m.lastError = ""
	} else {
		m.consecutiveDegraded++
		m.lastError = next.StatusDetail
	}
	m.mu.Unlock()

	l.Debug("balances accepted",
		zap.String("tier", next.SourceTier.String()),
		zap.String("status", string(next.Status)),
		zap.Int("changes", len(events)))

	m.publish(events, next)

	if next.SourceTier == domain.TierLive && next.Status == domain.StatusSuccess {
		m.mirror(l, next)
	}

	return next
}

func (m *Manager) publish(events []domain.ChangeEvent, snapshot domain.BalanceSnapshot) {
	if m.sink == nil {
		return
	}
	for _, e := range events {
		e.ID = uuid.NewString()
		m.sink.Publish(e)
	}
	if p, ok := m.sink.(snapshotPublisher); ok {
		p.PublishSnapshot(snapshot)
	}
}

// mirror writes a live snapshot to the persisted store and every backup generation
// in the background. Failures are logged and never reach the read path.
func (m *Manager) mirror(l *zap.Logger, snapshot domain.BalanceSnapshot) {
	if snapshot.Status == domain.StatusEmergency {
		return
	}

	if m.persisted != nil {
		m.spawnMirror(l, "persisted", func(ctx context.Context) error {
			return m.persisted.Save(ctx, snapshot)
		})
	}

	for _, gen := range m.backups {
		store := gen.Store
		m.spawnMirror(l, gen.Name, func(ctx context.Context) error {
			return store.Write(ctx, snapshot.OwnerID, snapshot)
		})
	}
}

func (m *Manager) spawnMirror(l *zap.Logger, target string, write func(ctx context.Context) error) {
	m.mirrors.Add(1)
	go func() {
		defer m.mirrors.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.mirrorTimeout)
		defer cancel()

		if err := m.mirrorRetrier.Do(ctx, write); err != nil {
			l.Warn("failed to mirror balances", zap.String("target", target), zap.Error(err))
		}
	}()
}

// Close waits for pending background writes.
func (m *Manager) Close() {
	m.mirrors.Wait()
}
