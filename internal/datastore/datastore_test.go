package datastore

import (
	"testing"
	"time"

	"github.com/maruel/kitchenstore/internal/config"
	"github.com/maruel/kitchenstore/internal/lock"
	"github.com/maruel/kitchenstore/internal/models"
	"github.com/maruel/kitchenstore/internal/paths"
	"github.com/maruel/kitchenstore/internal/tabledb"
	"github.com/maruel/kitchenstore/internal/workspace"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Timezone = "UTC"
	cfg.LockTimeout = 2 * time.Second
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

func openTest(t *testing.T, cfg *config.Config) *Store {
	t.Helper()
	s, err := Open(t.Context(), cfg, nil)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	for _, mode := range []config.LockMode{config.LockModeSentinel, config.LockModeNative} {
		t.Run(string(mode), func(t *testing.T) {
			cfg := testConfig(t)
			cfg.LockMode = mode
			cfg.Watch = true
			s := openTest(t, cfg)
			ctx := t.Context()
			if s.History() != nil {
				t.Error("History() enabled by default")
			}
			in := &tabledb.Table{Columns: []string{"description"}, Rows: [][]string{{"Onion"}}}
			if _, err := s.Tables().Write(ctx, paths.IngredientMaster, in); err != nil {
				t.Fatal(err)
			}
			if err := s.Workspaces().Save(ctx, "orders", workspace.DefaultName, workspace.Payload{"n": 1.0}); err != nil {
				t.Fatal(err)
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}
			if err := s.Close(); err != nil {
				t.Fatal(err)
			}
		})
	}

	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.LockMode = "none"
		if _, err := Open(t.Context(), cfg, nil); err == nil {
			t.Error("Open() accepted an invalid lock mode")
		}
	})
}

func TestZeroLockTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.LockTimeout = 0
	s := openTest(t, cfg)
	ctx := t.Context()
	in := &tabledb.Table{Columns: []string{"v"}, Rows: [][]string{{"1"}}}
	if _, err := s.Tables().Write(ctx, "recipes/soup", in); err != nil {
		t.Fatalf("Write() on a free lock failed: %v", err)
	}
	p, err := s.Tables().Path("recipes/soup")
	if err != nil {
		t.Fatal(err)
	}
	held, err := lock.NewSentinel(time.Second, 5*time.Millisecond, nil).Acquire(ctx, lock.PathFor(p), 0)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = held.Release() }()
	start := time.Now()
	if _, err := s.Tables().Write(ctx, "recipes/soup", in); !models.IsLockTimeout(err) {
		t.Fatalf("Write() error = %v, want lock timeout", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("Write() waited %s with a zero timeout", d)
	}
}

func TestHistory(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = true
	s := openTest(t, cfg)
	ctx := t.Context()
	for _, v := range []string{"1", "2"} {
		if _, err := s.Tables().Write(ctx, "recipes/soup", &tabledb.Table{Columns: []string{"v"}, Rows: [][]string{{v}}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Workspaces().Save(ctx, "orders", "cart", workspace.Payload{"a": 1.0}); err != nil {
		t.Fatal(err)
	}
	commits, err := s.History().History(ctx, "recipes/soup.csv", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Errorf("History(table) = %d commits, want 2", len(commits))
	}
	commits, err = s.History().History(ctx, paths.TeamStateFile, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 1 || commits[0].Message != "save workspace orders/cart" {
		t.Errorf("History(workspace) = %+v", commits)
	}
}

func TestMetrics(t *testing.T) {
	s := openTest(t, testConfig(t))
	ctx := t.Context()

	m, err := s.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if *m != (Metrics{}) {
		t.Errorf("Metrics() = %+v, want zero", m)
	}

	if _, err := s.Catalogs().Upload(ctx, "PFG", &tabledb.Table{
		Columns: []string{"item_number", "description", "case_cost"},
		Rows:    [][]string{{"1", "Onion", "2"}, {"2", "Onion", "3"}, {"3", "Leek", "4"}},
	}); err != nil {
		t.Fatal(err)
	}
	m, err = s.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.ActiveSKUs != 2 {
		t.Errorf("ActiveSKUs from catalogs = %d, want 2", m.ActiveSKUs)
	}

	master := &tabledb.Table{Columns: []string{"description"}, Rows: [][]string{{"Onion"}, {"Leek"}, {"Garlic"}, {""}}}
	if _, err := s.Tables().Write(ctx, paths.IngredientMaster, master); err != nil {
		t.Fatal(err)
	}
	count := &tabledb.Table{Columns: []string{"sku", "qty"}, Rows: [][]string{{"1", "4"}}}
	if _, err := s.Tables().Snapshot(ctx, paths.InventoryDir, count, "Main Floor"); err != nil {
		t.Fatal(err)
	}
	order := &tabledb.Table{Columns: []string{"sku", "qty"}, Rows: [][]string{{"1", "4"}, {"2", "1"}}}
	if _, err := s.Tables().Snapshot(ctx, paths.OrdersDir, order, "pfg"); err != nil {
		t.Fatal(err)
	}
	m, err = s.Metrics(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if m.ActiveSKUs != 3 || m.OpenOrderLines != 2 {
		t.Errorf("Metrics() = %+v", m)
	}
	if m.LastCount.IsZero() || m.LastCountName == "" {
		t.Errorf("Metrics() last count = %v %q", m.LastCount, m.LastCountName)
	}
	if d := time.Since(m.LastCount); d < -time.Second || d > time.Minute {
		t.Errorf("LastCount = %v, want about now", m.LastCount)
	}
}
