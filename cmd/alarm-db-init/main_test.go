package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sweeney/alarm-monitor/internal/config"
	"github.com/sweeney/alarm-monitor/internal/registry"
	"github.com/sweeney/alarm-monitor/internal/store"
)

func writeConfig(t *testing.T, dsn string) string {
	t.Helper()
	body := `
database:
  driver: sqlite
  dsn: ` + dsn + `
log:
  format: json
  level: error
points:
  - {item: "1", description: Pump 3 Overheat, address: 5, read_function: "01", active_status: HIGH_TEMP, priority: 1}
  - {item: "2", description: Door Open, address: 1, read_function: "02", active_status: OPEN, enabled: false}
`
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunSeedsMapping(t *testing.T) {
	t.Setenv("ALARM_DB_DSN", "")
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "alarms.db")

	if err := run(ctx, writeConfig(t, dsn), false); err != nil {
		t.Fatalf("run: %v", err)
	}

	st, err := store.Open(ctx, "sqlite", dsn, store.Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	reg, err := registry.Load(ctx, registry.NewSQLSource(st.DB()))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if reg.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", reg.Len())
	}
	p, _ := reg.Lookup("1")
	if p.ReadFunction != registry.ReadCoil || p.Priority != 1 || !p.Enabled {
		t.Errorf("point 1: got %+v", p)
	}
	p, _ = reg.Lookup("2")
	if p.ReadFunction != registry.ReadDiscrete || p.Enabled {
		t.Errorf("point 2: got %+v", p)
	}
	if regPoints := reg.Points(); regPoints[0].Item != "1" {
		t.Errorf("order: got %s first", regPoints[0].Item)
	}

	n, err := st.Count(ctx, store.Filter{})
	if err != nil || n != 0 {
		t.Errorf("alarm_history: got %d rows, %v; want empty table", n, err)
	}
}

func TestRunIsRepeatable(t *testing.T) {
	t.Setenv("ALARM_DB_DSN", "")
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "alarms.db")
	path := writeConfig(t, dsn)

	for i := 0; i < 2; i++ {
		if err := run(ctx, path, false); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if err := run(ctx, path, true); err != nil {
		t.Fatalf("run with force: %v", err)
	}
}

func TestInitializeWithoutPoints(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "empty.db")
	n, err := initialize(context.Background(), cfg)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if n != 0 {
		t.Errorf("seeded %d points, want 0", n)
	}
}
