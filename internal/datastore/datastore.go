// Package datastore wires the table store, the workspace document, the
// exception log and the catalog merger over one data directory.
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/maruel/kitchenstore/internal/catalog"
	"github.com/maruel/kitchenstore/internal/config"
	"github.com/maruel/kitchenstore/internal/exceptions"
	"github.com/maruel/kitchenstore/internal/history"
	"github.com/maruel/kitchenstore/internal/lock"
	"github.com/maruel/kitchenstore/internal/paths"
	"github.com/maruel/kitchenstore/internal/tabledb"
	"github.com/maruel/kitchenstore/internal/workspace"
)

// Store is an opened data directory.
type Store struct {
	cfg        *config.Config
	loc        *time.Location
	resolver   *paths.Resolver
	locker     lock.Locker
	tables     *tabledb.Store
	workspaces *workspace.Store
	exceptions *exceptions.Log
	catalogs   *catalog.Merger
	history    *history.Repo
	log        *slog.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open opens the data directory described by cfg, creating its layout.
//
// When cfg.Watch is set, a watcher keeps the table cache coherent with writes
// of other processes until Close.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	resolver, err := paths.NewResolver(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if err := resolver.EnsureLayout(); err != nil {
		return nil, err
	}
	s := &Store{cfg: cfg, loc: loc, resolver: resolver, log: logger}
	tableTimeout := lockTimeout(cfg.LockTimeout)
	switch cfg.LockMode {
	case config.LockModeNative:
		s.locker = lock.NewNative(tableTimeout, cfg.PollInterval)
	default:
		s.locker = lock.NewSentinel(tableTimeout, cfg.PollInterval, logger)
	}

	var tableRec tabledb.Recorder
	var wsRec workspace.Recorder
	if cfg.History {
		if s.history, err = history.Open(resolver.Root(), s.locker, tableTimeout); err != nil {
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		tableRec, wsRec = s.history, s.history
	}
	s.tables, err = tabledb.New(resolver, &tabledb.Options{
		Locker:      s.locker,
		LockTimeout: tableTimeout,
		CacheSize:   cfg.CacheSize,
		Location:    loc,
		Recorder:    tableRec,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	s.workspaces, err = workspace.New(resolver, &workspace.Options{
		Locker:      s.locker,
		LockTimeout: lockTimeout(cfg.WorkspaceLockTimeout),
		Recorder:    wsRec,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	s.exceptions = exceptions.New(s.tables, loc)
	s.catalogs = catalog.NewMerger(s.tables, s.exceptions, loc, logger)

	s.cancel = func() {}
	if cfg.Watch {
		wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.cancel = cancel
		s.wg.Go(func() {
			if err := s.tables.Watch(wctx); err != nil {
				logger.WarnContext(wctx, "table watcher stopped", "err", err)
			}
		})
	}
	logger.DebugContext(ctx, "data store opened", "root", resolver.Root(), "lock_mode", cfg.LockMode, "history", cfg.History, "watch", cfg.Watch)
	return s, nil
}

// lockTimeout maps a configured timeout to a Locker timeout, where 0 means
// the Locker's default.
func lockTimeout(d time.Duration) time.Duration {
	if d == 0 {
		return lock.NoWait
	}
	return d
}

// Close stops the watcher. It is safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// Config returns the settings the store was opened with.
func (s *Store) Config() *config.Config { return s.cfg }

// Location returns the timezone of timestamps.
func (s *Store) Location() *time.Location { return s.loc }

// Resolver returns the path resolver.
func (s *Store) Resolver() *paths.Resolver { return s.resolver }

// Tables returns the table and snapshot store.
func (s *Store) Tables() *tabledb.Store { return s.tables }

// Workspaces returns the workspace document store.
func (s *Store) Workspaces() *workspace.Store { return s.workspaces }

// Exceptions returns the exception log.
func (s *Store) Exceptions() *exceptions.Log { return s.exceptions }

// Catalogs returns the catalog merger.
func (s *Store) Catalogs() *catalog.Merger { return s.catalogs }

// History returns the git history, or nil when it is disabled.
func (s *Store) History() *history.Repo { return s.history }

// Metrics summarizes the data for a dashboard.
type Metrics struct {
	// ActiveSKUs is the number of distinct ingredient descriptions.
	ActiveSKUs int `json:"active_skus"`
	// LastCount is the time of the latest inventory count, zero if none.
	LastCount time.Time `json:"last_count,omitzero"`
	// LastCountName is the latest inventory snapshot.
	LastCountName  string `json:"last_count_name,omitempty"`
	OpenOrderLines int    `json:"open_order_lines"`
}

// Metrics computes the dashboard metrics.
//
// Active SKUs come from the ingredient master, or from the vendor catalogs
// when the master is empty.
func (s *Store) Metrics(ctx context.Context) (*Metrics, error) {
	m := &Metrics{}
	master, err := s.tables.Read(ctx, paths.IngredientMaster)
	if err != nil {
		return nil, err
	}
	if !master.Empty() {
		descs := map[string]struct{}{}
		for rec := range master.Records() {
			if d := strings.TrimSpace(rec["description"]); d != "" {
				descs[d] = struct{}{}
			}
		}
		m.ActiveSKUs = len(descs)
	} else {
		recs, err := s.catalogs.LoadAll(ctx)
		if err != nil {
			return nil, err
		}
		descs := map[string]struct{}{}
		for i := range recs {
			if d := strings.TrimSpace(recs[i].Description); d != "" {
				descs[d] = struct{}{}
			}
		}
		m.ActiveSKUs = len(descs)
	}

	info, ok, err := s.tables.Latest(paths.InventoryDir)
	if err != nil {
		return nil, err
	}
	if ok {
		m.LastCountName = info.Name
		if t, err := tabledb.ParseTimestamp(info.Name, s.loc); err == nil {
			m.LastCount = t
		}
	}

	orders, _, err := s.tables.LatestTable(ctx, paths.OrdersDir)
	if err != nil {
		return nil, err
	}
	m.OpenOrderLines = orders.Len()
	return m, nil
}
