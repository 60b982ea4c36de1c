package backup

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"

	"github.com/vadiminshakov/balancecache/internal/domain"
	"github.com/vadiminshakov/balancecache/internal/storage"
)

const levelDBKeyPrefix = "balance:"

// LevelDBStore legacy backup generation kept in a local LevelDB database.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDBStore opens or creates the database at dir.
func OpenLevelDBStore(dir string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb backup %s", dir)
	}
	return &LevelDBStore{db: db}, nil
}

func levelDBKey(accountID string) []byte {
	return []byte(levelDBKeyPrefix + accountID)
}

// Read returns the backed up balances of the account.
func (s *LevelDBStore) Read(ctx context.Context, accountID string) (domain.BalanceReading, error) {
	if err := ctx.Err(); err != nil {
		return domain.BalanceReading{}, err
	}

	payload, err := s.db.Get(levelDBKey(accountID), nil)
	if err == leveldb.ErrNotFound {
		return domain.BalanceReading{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.BalanceReading{}, errors.Wrap(err, "leveldb get")
	}

	rec, err := storage.Decode(payload, accountID)
	if err != nil {
		return domain.BalanceReading{}, err
	}
	return rec.Reading(), nil
}

// Write stores the snapshot under the account key.
func (s *LevelDBStore) Write(ctx context.Context, accountID string, snapshot domain.BalanceSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot.OwnerID = accountID
	payload, err := storage.Encode(storage.NewRecord(snapshot, time.Now()))
	if err != nil {
		return err
	}

	if err := s.db.Put(levelDBKey(accountID), payload, nil); err != nil {
		return errors.Wrap(err, "leveldb put")
	}
	return nil
}

// Close closes the database.
func (s *LevelDBStore) Close() error {
	return s.db.Close()
}
