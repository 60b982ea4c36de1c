package internal

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/balancecache/config"
	"github.com/vadiminshakov/balancecache/internal/events"
	"github.com/vadiminshakov/balancecache/internal/services/balancecache"
	"github.com/vadiminshakov/balancecache/internal/storage/backup"
	"github.com/vadiminshakov/balancecache/internal/storage/balancesnapshots"
	"github.com/vadiminshakov/balancecache/internal/web"
)

const (
	broadcasterBuffer   = 256
	initialFetchTimeout = 15 * time.Second
)

// Service wires the balance cache of one session: live source, stores,
// refresh loop, event fan-out and the HTTP surface.
type Service struct {
	Config config.Config

	l           *zap.Logger
	manager     *balancecache.Manager
	refresher   *balancecache.Refresher
	broadcaster *events.BalanceBroadcaster
	server      *web.Server
	closers     []io.Closer
}

// NewService builds the service from the config. client is the platform client of the live source.
func NewService(conf config.Config, client any, l *zap.Logger) (*Service, error) {
	if l == nil {
		l = zap.NewNop()
	}

	source, err := newBalanceSource(client)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create balance source")
	}

	s := &Service{Config: conf, l: l}

	persisted, err := balancesnapshots.NewWALStore(l.Named("wal"), conf.WALDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open persisted store")
	}
	s.closers = append(s.closers, persisted)

	backups, err := s.openBackups(conf.Backups)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.broadcaster = events.NewBalanceBroadcaster(broadcasterBuffer)
	s.manager = balancecache.NewManager(
		l.Named("balancecache"),
		source,
		persisted,
		backups,
		s.broadcaster,
		balancecache.WithPolicies(conf.Policies),
		balancecache.WithAssets(conf.Assets),
		balancecache.WithSafetyTimeout(conf.Cache.SafetyTimeout),
		balancecache.WithStoreTimeout(conf.Cache.StoreTimeout),
		balancecache.WithDegradedStaleAfter(conf.Cache.DegradedStaleAfter),
	)
	s.refresher = balancecache.NewRefresher(l.Named("refresher"), s.manager)
	s.server = web.NewServer(l.Named("web"), conf.WebAddr, s.manager, s.manager, s.broadcaster)

	return s, nil
}

func (s *Service) openBackups(confs []config.BackupConfig) ([]balancecache.BackupGeneration, error) {
	gens := make([]balancecache.BackupGeneration, 0, len(confs))
	for _, c := range confs {
		var store balancecache.BackupStore
		switch c.Kind {
		case config.BackupRedis:
			rdb := redis.NewClient(&redis.Options{
				Addr:     c.Addr,
				Password: c.Password,
				DB:       c.DB,
			})
			s.closers = append(s.closers, rdb)
			store = backup.NewRedisStore(rdb, c.TTL)
		case config.BackupLevelDB:
			db, err := backup.OpenLevelDBStore(c.Dir)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, db)
			store = db
		case config.BackupFile:
			fs, err := backup.NewFileStore(c.Dir)
			if err != nil {
				return nil, err
			}
			store = fs
		default:
			return nil, errors.Errorf("unsupported backup kind: %s", c.Kind)
		}

		gens = append(gens, balancecache.BackupGeneration{Name: c.Name, Tier: c.Tier, Store: store})
		s.l.Info("backup generation configured",
			zap.String("name", c.Name),
			zap.String("kind", string(c.Kind)),
			zap.String("tier", c.Tier.String()))
	}
	return gens, nil
}

// Manager returns the balance cache.
func (s *Service) Manager() *balancecache.Manager {
	return s.manager
}

// Run activates the configured account and serves until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.manager.SetAccount(s.Config.Account)

	fetchCtx, cancel := context.WithTimeout(ctx, initialFetchTimeout)
	snapshot := s.manager.Refresh(fetchCtx, true)
	cancel()
	s.l.Info("initial balances loaded",
		zap.String("account", snapshot.OwnerID),
		zap.String("tier", snapshot.SourceTier.String()),
		zap.String("status", string(snapshot.Status)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.refresher.Run(ctx)
	})
	g.Go(func() error {
		return s.server.Start(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close waits for pending background writes and releases the stores.
func (s *Service) Close() {
	if s.manager != nil {
		s.manager.Close()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.l.Warn("failed to close store", zap.Error(err))
		}
	}
}

// Start builds the service from conf and runs it until ctx is done.
func Start(ctx context.Context, conf config.Config, l *zap.Logger) error {
	client, err := newClient(conf.Source)
	if err != nil {
		return errors.Wrap(err, "failed to create source client")
	}

	svc, err := NewService(conf, client, l)
	if err != nil {
		return err
	}
	defer svc.Close()

	l.Info("starting balancecache",
		zap.String("account", conf.Account.ID),
		zap.String("network", conf.Account.Network),
		zap.String("plan", conf.Account.PlanTier.String()),
		zap.String("source", string(conf.Source.Kind)))

	return svc.Run(ctx)
}
