package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/config"
	"github.com/sweeney/alarm-monitor/internal/fieldbus"
	"github.com/sweeney/alarm-monitor/internal/monitor"
	"github.com/sweeney/alarm-monitor/internal/mqtt"
	"github.com/sweeney/alarm-monitor/internal/registry"
	"github.com/sweeney/alarm-monitor/internal/store"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New([]registry.Point{
		{Item: "1", Description: "Pump 3 Overheat", Address: 5, ReadFunction: registry.ReadCoil, ActiveStatus: "HIGH_TEMP", Enabled: true},
		{Item: "2", Description: "Door Open", Address: 1, ReadFunction: registry.ReadDiscrete, ActiveStatus: "OPEN", Enabled: true},
		{Item: "3", Description: "Spare", Address: 9, ReadFunction: registry.ReadCoil, Enabled: false},
	})
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	return reg
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("ALARM_MONITOR_CONFIG", "")
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("source: FromFile\nhttp:\n  addr: \":9000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(options{configPath: path})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Source != "FromFile" || cfg.HTTP.Addr != ":9000" {
		t.Errorf("file values lost: %+v", cfg)
	}

	cfg, err = loadConfig(options{configPath: path, source: "Flag", mode: "sim", httpAddr: "off"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Source != "Flag" {
		t.Errorf("Source: got %q, want Flag", cfg.Source)
	}
	if cfg.Fieldbus.Mode != "sim" {
		t.Errorf("Mode: got %q, want sim", cfg.Fieldbus.Mode)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("HTTP.Addr: got %q, want disabled", cfg.HTTP.Addr)
	}
}

func TestLoadConfigRejectsBadOverride(t *testing.T) {
	t.Setenv("ALARM_MONITOR_CONFIG", "")
	if _, err := loadConfig(options{mode: "lab"}); err == nil {
		t.Error("expected validation error for unknown mode")
	}
}

func TestNewClient(t *testing.T) {
	f := config.Default().Fieldbus
	f.Mode = "sim"
	client, device, err := newClient(f)
	if err != nil {
		t.Fatalf("newClient modbus: %v", err)
	}
	if _, ok := client.(*fieldbus.Modbus); !ok {
		t.Errorf("got %T, want *fieldbus.Modbus", client)
	}
	if device != "tcp://localhost:1502" {
		t.Errorf("device: got %q", device)
	}

	f.Driver = config.DriverGPIO
	client, device, err = newClient(f)
	if err != nil {
		t.Fatalf("newClient gpio: %v", err)
	}
	if _, ok := client.(*fieldbus.GPIO); !ok {
		t.Errorf("got %T, want *fieldbus.GPIO", client)
	}
	if device != "gpiochip0" {
		t.Errorf("device: got %q", device)
	}

	f.Driver = "canbus"
	if _, _, err := newClient(f); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestOpenStoreDryRun(t *testing.T) {
	cfg := config.Default()
	st, sources, err := openStore(context.Background(), cfg, true)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.Memory); !ok {
		t.Errorf("got %T, want *store.Memory", st)
	}
	if len(sources) != 1 {
		t.Errorf("got %d sources, want config points only", len(sources))
	}
	if storeName(cfg, true) != "memory" {
		t.Errorf("storeName: got %q", storeName(cfg, true))
	}
}

func TestOpenStoreSQLiteFallsBackToConfigPoints(t *testing.T) {
	cfg := config.Default()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "alarms.db")
	cfg.Points = []registry.Point{
		{Item: "7", Description: "Boiler Trip", Address: 48, ReadFunction: registry.ReadCoil, ActiveStatus: "TRIP", Enabled: true},
	}

	st, sources, err := openStore(context.Background(), cfg, false)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer st.Close()

	reg, err := registry.Load(context.Background(), sources...)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len: got %d, want the config point", reg.Len())
	}
	if _, ok := reg.Lookup("7"); !ok {
		t.Error("config point not loaded")
	}
}

func TestPrintState(t *testing.T) {
	bus := fieldbus.NewFake()
	bus.SetLevel(registry.ReadCoil, 5, true)
	bus.FailRead(registry.ReadDiscrete, 1, fieldbus.ErrSimulated)

	var buf bytes.Buffer
	if err := printState(context.Background(), bus, testRegistry(t), &buf); err != nil {
		t.Fatalf("printState: %v", err)
	}
	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2 enabled points:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "Pump 3 Overheat") || !strings.Contains(lines[0], "ACTIVE HIGH_TEMP") {
		t.Errorf("line 1: %q", lines[0])
	}
	if !strings.Contains(lines[1], "ERROR") {
		t.Errorf("line 2: %q", lines[1])
	}
	if strings.Contains(out, "Spare") {
		t.Error("disabled point printed")
	}
}

func TestPrintStateConnectError(t *testing.T) {
	bus := fieldbus.NewFake()
	bus.FailConnect(fieldbus.ErrSimulated)
	var buf bytes.Buffer
	if err := printState(context.Background(), bus, testRegistry(t), &buf); err == nil {
		t.Error("expected connect error")
	}
}

func newTestMonitor(t *testing.T, pub mqtt.Publisher) (*monitor.Monitor, *store.Memory) {
	t.Helper()
	bus := fieldbus.NewFake()
	bus.SetLevel(registry.ReadCoil, 5, true)
	st := store.NewMemory(0)
	mon, err := monitor.New(monitor.Config{
		Source:       "Mastercomm",
		ScanInterval: 10 * time.Millisecond,
		StopTimeout:  time.Second,
	}, monitor.Deps{
		Registry:  testRegistry(t),
		Client:    bus,
		Store:     st,
		Publisher: pub,
	})
	if err != nil {
		t.Fatalf("monitor.New: %v", err)
	}
	return mon, st
}

func runShutdown(t *testing.T, sig os.Signal) (*mqtt.FakePublisher, *monitor.Monitor) {
	t.Helper()
	pub := mqtt.NewFakePublisher()
	mon, st := newTestMonitor(t, pub)
	if err := mon.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- runLoop(mon, pub, st, zap.NewNop(), tick, nil, sigCh) }()

	tick <- time.Now()
	sigCh <- sig

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runLoop: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("runLoop did not return after signal")
	}
	return pub, mon
}

func TestRunLoopShutdownSIGINT(t *testing.T) {
	pub, mon := runShutdown(t, syscall.SIGINT)

	if mon.Running() {
		t.Error("monitor still running after shutdown")
	}
	if len(pub.SystemEvents) != 1 {
		t.Fatalf("got %d system events, want 1", len(pub.SystemEvents))
	}
	ev := pub.SystemEvents[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGINT" || !ev.Retained {
		t.Errorf("unexpected event %+v", ev)
	}
	if !strings.Contains(string(ev.RawPayload), `"event":"SHUTDOWN"`) {
		t.Errorf("payload: %s", ev.RawPayload)
	}
	if !strings.Contains(string(ev.RawPayload), `"state":"STOPPED"`) {
		t.Errorf("payload should report the stopped state: %s", ev.RawPayload)
	}
}

func TestRunLoopShutdownSIGTERM(t *testing.T) {
	pub, _ := runShutdown(t, syscall.SIGTERM)
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Reason != "SIGTERM" {
		t.Errorf("unexpected events %+v", pub.SystemEvents)
	}
}

func TestRunLoopStatusTickPingsStore(t *testing.T) {
	mon, st := newTestMonitor(t, nil)
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- runLoop(mon, nil, st, zap.NewNop(), tick, nil, sigCh) }()

	tick <- time.Now()
	tick <- time.Now() // first tick fully handled
	if !mon.Status().StoreConnected {
		t.Error("StoreConnected: got false after status tick")
	}

	sigCh <- syscall.SIGTERM
	if err := <-done; err != nil {
		t.Fatalf("runLoop: %v", err)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	mon, st := newTestMonitor(t, pub)
	tick := make(chan time.Time)
	hb := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() { done <- runLoop(mon, pub, st, zap.NewNop(), tick, hb, sigCh) }()

	hb <- time.Now()
	tick <- time.Now() // heartbeat fully handled
	sigCh <- syscall.SIGTERM
	if err := <-done; err != nil {
		t.Fatalf("runLoop: %v", err)
	}

	if len(pub.SystemEvents) != 2 {
		t.Fatalf("got %d system events, want heartbeat and shutdown", len(pub.SystemEvents))
	}
	ev := pub.SystemEvents[0]
	if ev.Event != "HEARTBEAT" || ev.Retained {
		t.Errorf("heartbeat: got %+v, want non-retained HEARTBEAT", ev)
	}
	if !strings.Contains(string(ev.RawPayload), `"event":"HEARTBEAT"`) {
		t.Errorf("payload: %s", ev.RawPayload)
	}
	if pub.SystemEvents[1].Event != "SHUTDOWN" {
		t.Errorf("second event: got %s", pub.SystemEvents[1].Event)
	}
}

func TestPublishSystemWithoutPublisher(t *testing.T) {
	mon, _ := newTestMonitor(t, nil)
	publishSystem(nil, mon, zap.NewNop(), "STARTUP", "", true)
}

func TestPublishSystemStartup(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	mon, _ := newTestMonitor(t, pub)
	publishSystem(pub, mon, zap.NewNop(), "STARTUP", "", true)
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Event != "STARTUP" {
		t.Fatalf("unexpected events %+v", pub.SystemEvents)
	}
	if !strings.Contains(string(pub.SystemEvents[0].RawPayload), `"state":"IDLE"`) {
		t.Errorf("payload: %s", pub.SystemEvents[0].RawPayload)
	}
}
