// Command alarm-monitor polls fieldbus alarm points, records every level change
// and serves the status and history over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/config"
	"github.com/sweeney/alarm-monitor/internal/fieldbus"
	"github.com/sweeney/alarm-monitor/internal/logging"
	"github.com/sweeney/alarm-monitor/internal/metrics"
	"github.com/sweeney/alarm-monitor/internal/monitor"
	"github.com/sweeney/alarm-monitor/internal/mqtt"
	"github.com/sweeney/alarm-monitor/internal/query"
	"github.com/sweeney/alarm-monitor/internal/registry"
	"github.com/sweeney/alarm-monitor/internal/status"
	"github.com/sweeney/alarm-monitor/internal/store"
	"github.com/sweeney/alarm-monitor/internal/web"
)

// statusInterval is how often the status line is logged and the store pinged.
const statusInterval = 30 * time.Second

type options struct {
	configPath string
	source     string
	mode       string
	httpAddr   string
	heartbeat  time.Duration
	printState bool
	dryRun     bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "YAML config file (default $ALARM_MONITOR_CONFIG)")
	flag.StringVar(&opts.source, "source", "", "Override the source machine name")
	flag.StringVar(&opts.mode, "mode", "", "Override the fieldbus host mode (sim or real)")
	flag.StringVar(&opts.httpAddr, "http", "", `Override the HTTP status address ("off" disables)`)
	flag.DurationVar(&opts.heartbeat, "heartbeat", 15*time.Minute, "MQTT heartbeat interval (0 to disable)")
	flag.BoolVar(&opts.printState, "print-state", false, "Read every enabled point once, print the levels and exit")
	flag.BoolVar(&opts.dryRun, "dry-run", false, "Keep history in memory instead of the database")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.source != "" {
		cfg.Source = opts.source
	}
	if opts.mode != "" {
		cfg.Fieldbus.Mode = opts.mode
	}
	switch opts.httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = opts.httpAddr
	}
	return cfg, cfg.Validate()
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, "alarm-monitor")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	instanceID := uuid.NewString()

	st, sources, err := openStore(ctx, cfg, opts.dryRun)
	if err != nil {
		return err
	}
	defer st.Close()

	reg, err := registry.Load(ctx, sources...)
	if err != nil {
		return fmt.Errorf("load points: %w", err)
	}
	if len(reg.Enabled()) == 0 {
		logger.Warn("no enabled points; the monitor will scan nothing")
	}

	client, device, err := newClient(cfg.Fieldbus)
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.printState {
		return printState(ctx, client, reg, os.Stdout)
	}

	tracker := status.NewTracker(len(reg.Enabled()), status.Config{
		Source:       cfg.Source,
		InstanceID:   instanceID,
		Driver:       cfg.Fieldbus.Driver,
		Device:       device,
		ScanInterval: cfg.ScanInterval,
		Database:     storeName(cfg, opts.dryRun),
		Broker:       cfg.MQTT.Broker,
		HTTPAddr:     cfg.HTTP.Addr,
	})
	metrics.Init(st, logger)

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: "alarm-monitor-" + instanceID[:8],
			Topics:   mqtt.ResolveTopics(cfg.MQTT.Topic, cfg.Source),
			Logger:   logger,
		})
		if err != nil {
			logger.Error("mqtt disabled", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			publisher = p
			defer p.Close()
		}
	}

	mon, err := monitor.New(monitor.Config{
		Source:       cfg.Source,
		ScanInterval: cfg.ScanInterval,
		StopTimeout:  cfg.StopTimeout,
		Location:     cfg.Location(),
	}, monitor.Deps{
		Registry:  reg,
		Client:    client,
		Store:     st,
		Publisher: publisher,
		Tracker:   tracker,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := mon.CheckStore(ctx); err != nil {
		logger.Warn("store ping failed", zap.Error(err))
	}

	publishSystem(publisher, mon, logger, "STARTUP", "", true)

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, mon, query.NewService(st, cfg.Location()), logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http status server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	if err := mon.Start(); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}
	logger.Info("started",
		zap.String("instance_id", instanceID),
		zap.String("driver", cfg.Fieldbus.Driver),
		zap.String("device", device),
		zap.Int("points", len(reg.Enabled())),
		zap.Duration("scan_interval", cfg.ScanInterval))

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	var heartbeat <-chan time.Time
	if opts.heartbeat > 0 && publisher != nil {
		hb := time.NewTicker(opts.heartbeat)
		defer hb.Stop()
		heartbeat = hb.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return runLoop(mon, publisher, st, logger, ticker.C, heartbeat, sigCh)
}

// openStore returns the transition store and the point sources in priority order.
func openStore(ctx context.Context, cfg config.Config, dryRun bool) (store.Store, []registry.Source, error) {
	if dryRun {
		return store.NewMemory(cfg.Database.MaxRows), []registry.Source{registry.Static(cfg.Points)}, nil
	}

	s, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, store.Options{MaxRows: cfg.Database.MaxRows})
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, nil, fmt.Errorf("migrate store: %w", err)
	}
	return s, []registry.Source{registry.NewSQLSource(s.DB()), registry.Static(cfg.Points)}, nil
}

func storeName(cfg config.Config, dryRun bool) string {
	if dryRun {
		return "memory"
	}
	return cfg.Database.Driver
}

// newClient builds the configured fieldbus client and a display name for its device.
func newClient(f config.FieldbusConfig) (fieldbus.Client, string, error) {
	switch f.Driver {
	case config.DriverGPIO:
		return fieldbus.NewGPIO(f.GPIOChip, f.GPIOActiveLow), f.GPIOChip, nil
	case config.DriverModbus:
		mc, err := f.Modbus()
		if err != nil {
			return nil, "", err
		}
		return fieldbus.NewModbus(mc), mc.URL(), nil
	}
	return nil, "", fmt.Errorf("unknown fieldbus driver %q", f.Driver)
}

// printState reads every enabled point once and writes one line per point.
func printState(ctx context.Context, client fieldbus.Client, reg *registry.Registry, w io.Writer) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}
	for _, p := range reg.Enabled() {
		level, err := client.ReadBit(ctx, p.ReadFunction, p.Address)
		state := "NORMAL"
		switch {
		case err != nil:
			state = "ERROR: " + err.Error()
		case level:
			state = "ACTIVE " + p.ActiveStatus
		}
		fmt.Fprintf(w, "%s\t%s %d\t%s\t%s\n", p.Item, p.ReadFunction, p.Address, p.Description, state)
	}
	return nil
}

// runLoop logs status on tick, publishes a heartbeat on heartbeat (nil disables)
// and stops the monitor on the first signal.
func runLoop(mon *monitor.Monitor, publisher mqtt.Publisher, history metrics.Counter, logger *zap.Logger, tick, heartbeat <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			logger.Info("shutting down", zap.String("signal", s.String()))
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if err := mon.Stop(); err != nil {
				logger.Warn("monitor stop", zap.Error(err))
			}
			publishSystem(publisher, mon, logger, "SHUTDOWN", signalName, true)
			return nil

		case <-tick:
			logStatus(mon, history, logger)

		case <-heartbeat:
			publishSystem(publisher, mon, logger, "HEARTBEAT", "", false)
		}
	}
}

// logStatus pings the store and logs one status line.
func logStatus(mon *monitor.Monitor, history metrics.Counter, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mon.CheckStore(ctx); err != nil {
		logger.Warn("store ping failed", zap.Error(err))
	}
	records := -1
	if history != nil {
		if n, err := history.Count(ctx, store.Filter{}); err == nil {
			records = n
		}
	}

	snap := mon.Status()
	logger.Info("status",
		zap.String("state", string(snap.State)),
		zap.Bool("connected", snap.Connected),
		zap.Int("active", snap.ActiveCount),
		zap.Int("total", snap.TotalCount),
		zap.Int("unread", snap.UnreadCount),
		zap.Int("scans", snap.Counters.Scans),
		zap.Int("read_errors", snap.Counters.ReadErrors),
		zap.Int("write_errors", snap.Counters.WriteErrors),
		zap.Int("records", records),
		zap.Bool("store_connected", snap.StoreConnected),
		zap.Bool("mqtt_connected", snap.MQTTConnected))
}

// publishSystem sends a system event carrying the status snapshot.
// Lifecycle events are retained; heartbeats are not.
func publishSystem(publisher mqtt.Publisher, mon *monitor.Monitor, logger *zap.Logger, event, reason string, retained bool) {
	if publisher == nil {
		return
	}
	snap := mon.Status()
	err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   retained,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		logger.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
		return
	}
	logger.Info("published system event", zap.String("event", event))
}
