// Command alarm-db-init creates the alarm tables and seeds alarm_mapping from the config points.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/config"
	"github.com/sweeney/alarm-monitor/internal/logging"
	"github.com/sweeney/alarm-monitor/internal/registry"
	"github.com/sweeney/alarm-monitor/internal/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default $ALARM_MONITOR_CONFIG)")
	force := flag.Bool("force", false, "Remove an existing SQLite database file first")
	flag.Parse()

	if err := run(context.Background(), *configPath, *force); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

func run(ctx context.Context, configPath string, force bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "alarm-db-init")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	d, err := store.DialectFor(cfg.Database.Driver)
	if err != nil {
		return err
	}
	if force && d.Name == store.SQLite.Name {
		if err := os.Remove(cfg.Database.DSN); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", cfg.Database.DSN, err)
		}
		logger.Info("removed existing database file", zap.String("dsn", cfg.Database.DSN))
	}

	n, err := initialize(ctx, cfg)
	if err != nil {
		return err
	}
	logger.Info("database initialized",
		zap.String("driver", d.Name),
		zap.Int("points_seeded", n))
	return nil
}

// initialize migrates the schema and seeds the configured points.
func initialize(ctx context.Context, cfg config.Config) (int, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, store.Options{MaxRows: cfg.Database.MaxRows})
	if err != nil {
		return 0, err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return 0, err
	}
	if len(cfg.Points) == 0 {
		return 0, nil
	}
	n, err := registry.Seed(ctx, st.DB(), st.Dialect().Bind, cfg.Points)
	if err != nil {
		return 0, fmt.Errorf("seed alarm_mapping: %w", err)
	}
	return n, nil
}
