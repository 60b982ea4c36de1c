// Package balancesnapshots is the persisted tier of the balance cache: the
// last live snapshot of every account, kept in a write-ahead log.
package balancesnapshots

import (
	"context"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/balancecache/internal/domain"
	"github.com/vadiminshakov/balancecache/internal/storage"
)

const (
	defaultSnapshotDir   = "./wal/balance"
	snapshotSegmentLimit = 1000
	snapshotMaxSegments  = 100
	snapshotKeyPrefix    = "balance_snapshot_"
)

// WALStore persists balance snapshots in a WAL. The latest record of every
// owner is indexed in memory when the log is opened.
type WALStore struct {
	l   *zap.Logger
	wal *gowal.Wal
	now func() time.Time

	mu     sync.RWMutex
	latest map[string]storage.Record
}

// NewWALStore opens the WAL under dir and replays it.
func NewWALStore(l *zap.Logger, dir string) (*WALStore, error) {
	if l == nil {
		l = zap.NewNop()
	}
	if dir == "" {
		dir = defaultSnapshotDir
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to ensure WAL directory %s", dir)
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "snapshot_",
		SegmentThreshold: snapshotSegmentLimit,
		MaxSegments:      snapshotMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init balance snapshot WAL")
	}

	s := &WALStore{
		l:      l,
		wal:    wal,
		now:    time.Now,
		latest: make(map[string]storage.Record),
	}
	s.replay()

	return s, nil
}

func (s *WALStore) replay() {
	for msg := range s.wal.Iterator() {
		if !strings.HasPrefix(msg.Key, snapshotKeyPrefix) {
			continue
		}
		owner := strings.TrimPrefix(msg.Key, snapshotKeyPrefix)
		rec, err := storage.Decode(msg.Value, owner)
		if err != nil {
			s.l.Warn("skipping unreadable balance record", zap.String("key", msg.Key), zap.Error(err))
			continue
		}
		s.latest[owner] = rec
	}

	s.l.Debug("balance snapshot WAL replayed", zap.Int("owners", len(s.latest)))
}

// Save appends the snapshot to the WAL.
func (s *WALStore) Save(ctx context.Context, snapshot domain.BalanceSnapshot) error {
	if s == nil || s.wal == nil {
		return errors.New("balance snapshot store is not initialized")
	}
	if snapshot.OwnerID == "" {
		return errors.New("balance snapshot owner is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rec := storage.NewRecord(snapshot, s.now())
	payload, err := storage.Encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, snapshotKeyPrefix+snapshot.OwnerID, payload); err != nil {
		return errors.Wrap(err, "write balance snapshot")
	}
	s.latest[snapshot.OwnerID] = rec

	return nil
}

// Read returns the last saved balances of the account.
func (s *WALStore) Read(ctx context.Context, accountID string) (domain.BalanceReading, error) {
	if s == nil || s.wal == nil {
		return domain.BalanceReading{}, errors.New("balance snapshot store is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return domain.BalanceReading{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.latest[accountID]
	if !ok {
		return domain.BalanceReading{}, domain.ErrNotFound
	}
	return rec.Reading(), nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("balance snapshot store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
