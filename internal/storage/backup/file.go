package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/vadiminshakov/balancecache/internal/domain"
	"github.com/vadiminshakov/balancecache/internal/storage"
)

const defaultFileDir = "./wal/backup"

// FileStore legacy backup generation: one JSON file per account.
type FileStore struct {
	dir string
	now func() time.Time
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = defaultFileDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create backup dir")
	}
	return &FileStore{dir: dir, now: time.Now}, nil
}

func (s *FileStore) path(accountID string) (string, error) {
	name := sanitizeScope(accountID)
	if name == "" {
		return "", errors.New("account id is required")
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", name)), nil
}

// Read returns the backed up balances of the account.
func (s *FileStore) Read(ctx context.Context, accountID string) (domain.BalanceReading, error) {
	if err := ctx.Err(); err != nil {
		return domain.BalanceReading{}, err
	}

	path, err := s.path(accountID)
	if err != nil {
		return domain.BalanceReading{}, err
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.BalanceReading{}, domain.ErrNotFound
		}
		return domain.BalanceReading{}, errors.Wrap(err, "read balance backup")
	}

	rec, err := storage.Decode(payload, accountID)
	if err != nil {
		return domain.BalanceReading{}, err
	}
	return rec.Reading(), nil
}

// Write stores the snapshot atomically via temp file.
func (s *FileStore) Write(ctx context.Context, accountID string, snapshot domain.BalanceSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.path(accountID)
	if err != nil {
		return err
	}

	snapshot.OwnerID = accountID
	payload, err := storage.Encode(storage.NewRecord(snapshot, s.now()))
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write balance backup temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "persist balance backup")
	}

	return nil
}

func sanitizeScope(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}

	var b strings.Builder

	prevUnderscore := false

	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)

			prevUnderscore = false

			continue
		}

		if !prevUnderscore {
			b.WriteByte('_')

			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
