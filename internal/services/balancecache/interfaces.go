package balancecache

import (
	"context"

	"github.com/vadiminshakov/balancecache/internal/domain"
)

// BalanceSource authoritative remote balance endpoint. Unreliable.
type BalanceSource interface {
	Read(ctx context.Context, accountID, network string) (domain.BalanceReading, error)
}

// PersistedStore last balance table durably written for an account.
// Read returns domain.ErrNotFound when nothing was saved.
type PersistedStore interface {
	Read(ctx context.Context, accountID string) (domain.BalanceReading, error)
	Save(ctx context.Context, snapshot domain.BalanceSnapshot) error
}

// BackupStore redundant key/value mirror of successful live reads.
// Read returns domain.ErrNotFound when nothing was mirrored.
type BackupStore interface {
	Read(ctx context.Context, accountID string) (domain.BalanceReading, error)
	Write(ctx context.Context, accountID string, snapshot domain.BalanceSnapshot) error
}

// BackupGeneration backup store tagged with the tier it answers as.
type BackupGeneration struct {
	Name  string
	Tier  domain.SourceTier
	Store BackupStore
}

// NotificationSink consumes change events. Best effort.
type NotificationSink interface {
	Publish(event domain.ChangeEvent)
}

// snapshotPublisher optional sink extension notified about every accepted snapshot.
type snapshotPublisher interface {
	PublishSnapshot(snapshot domain.BalanceSnapshot)
}
