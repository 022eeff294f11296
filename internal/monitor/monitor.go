// Package monitor runs the background scan loop: read every enabled point,
// detect level changes, persist each change and notify subscribers.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/alarm-monitor/internal/fieldbus"
	"github.com/sweeney/alarm-monitor/internal/logic"
	"github.com/sweeney/alarm-monitor/internal/logno"
	"github.com/sweeney/alarm-monitor/internal/metrics"
	"github.com/sweeney/alarm-monitor/internal/mqtt"
	"github.com/sweeney/alarm-monitor/internal/registry"
	"github.com/sweeney/alarm-monitor/internal/status"
	"github.com/sweeney/alarm-monitor/internal/store"
)

const (
	DefaultScanInterval = time.Second
	DefaultStopTimeout  = 5 * time.Second

	// writeTimeout bounds one Append. Appends are detached from loop
	// cancellation so a record in flight at Stop is still committed.
	writeTimeout = 5 * time.Second
)

// ErrStopping is returned by Start while a previous loop has not yet exited.
var ErrStopping = errors.New("monitor: previous scan loop still running")

// ErrStopTimeout is returned by Stop when the loop did not exit in time.
var ErrStopTimeout = errors.New("monitor: scan loop did not stop in time")

// Config controls the scan loop.
type Config struct {
	Source       string
	ScanInterval time.Duration
	StopTimeout  time.Duration
	Location     *time.Location // log-number hour buckets; nil = local
}

// Deps are the collaborators of a Monitor. Publisher, Tracker and Logger are optional.
type Deps struct {
	Registry  *registry.Registry
	Client    fieldbus.Client
	Store     store.Store
	Publisher mqtt.Publisher
	Tracker   *status.Tracker
	Logger    *zap.Logger
}

// Monitor owns the scan loop. Start, Stop and Status are safe for concurrent use.
type Monitor struct {
	cfg       Config
	points    []registry.Point
	client    fieldbus.Client
	store     store.Store
	publisher mqtt.Publisher
	tracker   *status.Tracker
	logger    *zap.Logger
	lognos    *logno.Generator
	detector  *logic.Detector // loop goroutine only

	now   func() time.Time
	ticks <-chan time.Time // replaces the scan interval timer when set

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	pending chan struct{} // closed once the last Stop finished and its loop exited
}

// New creates an idle monitor over the enabled points of the registry.
func New(cfg Config, deps Deps) (*Monitor, error) {
	if deps.Registry == nil {
		return nil, errors.New("monitor: registry is required")
	}
	if deps.Client == nil {
		return nil, errors.New("monitor: fieldbus client is required")
	}
	if deps.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = DefaultScanInterval
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}

	points := deps.Registry.Enabled()
	items := make([]string, len(points))
	for i, p := range points {
		items[i] = p.Item
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = status.NewTracker(len(points), status.Config{
			Source:       cfg.Source,
			ScanInterval: cfg.ScanInterval,
		})
	}

	return &Monitor{
		cfg:       cfg,
		points:    points,
		client:    deps.Client,
		store:     deps.Store,
		publisher: deps.Publisher,
		tracker:   tracker,
		logger:    logger.With(zap.String("component", "monitor"), zap.String("source", cfg.Source)),
		lognos:    logno.New(cfg.Location),
		detector:  logic.NewDetector(items),
		now:       time.Now,
	}, nil
}

// Start launches the scan loop. It is a no-op when the loop is already running.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.done != nil {
		return nil
	}
	if m.pending != nil {
		select {
		case <-m.pending:
			m.pending = nil
		default:
			return ErrStopping
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	m.tracker.Started(m.now())
	go m.loop(ctx, m.done)
	return nil
}

// Stop cancels the loop, waits up to StopTimeout for it to exit and then
// closes the fieldbus client. It is a no-op when the loop is not running.
// Start returns ErrStopping until Stop has finished and the loop has exited.
func (m *Monitor) Stop() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	if done == nil {
		m.mu.Unlock()
		return nil
	}
	stopped := make(chan struct{})
	m.cancel, m.done = nil, nil
	m.pending = stopped
	m.mu.Unlock()

	cancel()

	var err error
	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		m.logger.Warn("scan loop did not stop in time, closing client anyway",
			zap.Duration("stop_timeout", m.cfg.StopTimeout))
		err = ErrStopTimeout
	}

	if cerr := m.client.Close(); cerr != nil {
		m.logger.Warn("close fieldbus client", zap.Error(cerr))
	}
	m.tracker.SetState(status.StateStopped)
	m.logger.Info("monitor stopped")

	if err == nil {
		close(stopped)
	} else {
		go func() {
			<-done
			close(stopped)
		}()
	}
	return err
}

// Running reports whether the loop has been started and not stopped.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done != nil
}

// Status returns a snapshot of the monitor state. Safe before Start.
func (m *Monitor) Status() status.Snapshot {
	if cs, ok := m.publisher.(mqtt.ConnectionStatus); ok {
		m.tracker.SetMQTTConnected(cs.IsConnected())
	}
	return m.tracker.Snapshot()
}

// CheckStore pings the store and records the result in the tracker.
func (m *Monitor) CheckStore(ctx context.Context) error {
	err := m.store.Ping(ctx)
	m.tracker.SetStoreConnected(err == nil)
	return err
}

func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	m.logger.Info("scan loop started",
		zap.Int("points", len(m.points)),
		zap.Duration("scan_interval", m.cfg.ScanInterval))

	for {
		m.tick(ctx)
		if !m.wait(ctx) {
			return
		}
	}
}

// wait blocks for one scan interval. It returns false when ctx is cancelled.
func (m *Monitor) wait(ctx context.Context) bool {
	if m.ticks != nil {
		select {
		case <-ctx.Done():
			return false
		case <-m.ticks:
			return true
		}
	}
	timer := time.NewTimer(m.cfg.ScanInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// tick runs one connect-or-scan step. A panic abandons the tick, not the loop.
func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("scan tick panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	if ctx.Err() != nil {
		return
	}
	if !m.client.IsOpen() {
		if !m.connect(ctx) {
			return
		}
	}
	m.tracker.SetState(status.StateScanning)
	m.scan(ctx)
}

func (m *Monitor) connect(ctx context.Context) bool {
	m.tracker.SetState(status.StateConnecting)
	m.tracker.SetConnected(false)

	err := m.client.Connect(ctx)
	if ctx.Err() != nil {
		return false
	}
	metrics.ObserveConnect(err)
	if err != nil {
		m.tracker.AddConnectFailure(err.Error())
		m.logger.Warn("fieldbus connect failed, retrying next tick", zap.Error(err))
		return false
	}
	m.tracker.SetConnected(true)
	m.logger.Info("fieldbus connected")
	return true
}

// scan reads every enabled point once in registry order.
func (m *Monitor) scan(ctx context.Context) {
	started := time.Now()

	for _, p := range m.points {
		if ctx.Err() != nil {
			return
		}
		level, err := m.client.ReadBit(ctx, p.ReadFunction, p.Address)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncReadError(string(p.ReadFunction))
			m.tracker.AddReadError(err.Error())
			m.logger.Warn("point read failed",
				zap.String("item", p.Item),
				zap.Uint16("address", p.Address),
				zap.String("read_function", string(p.ReadFunction)),
				zap.Error(err))
			if !m.client.IsOpen() {
				m.tracker.SetConnected(false)
				m.logger.Warn("fieldbus connection lost, abandoning scan")
				return
			}
			continue
		}

		t := m.detector.Process(logic.Sample{Item: p.Item, Level: level, Time: m.now()})
		if t != nil {
			m.record(ctx, p, *t)
		}
	}

	metrics.ObserveScan(time.Since(started))
	metrics.SetActiveAlarms(m.detector.ActiveCount())
	m.tracker.RecordScan(m.detector.ActiveCount(), m.detector.UnreadCount(), m.detector.Counts(), m.now())
	if cs, ok := m.publisher.(mqtt.ConnectionStatus); ok {
		m.tracker.SetMQTTConnected(cs.IsConnected())
	}
}

// record persists one transition and publishes it once committed.
// The detector has already moved on; a failed write is logged, not retried.
func (m *Monitor) record(ctx context.Context, p registry.Point, t logic.Transition) {
	rec := store.Record{
		LogNo:       m.lognos.Next(t.Time),
		Timestamp:   t.Time,
		Kind:        t.Kind,
		Description: p.Description,
		Status:      statusFor(p, t.Kind),
		Source:      m.cfg.Source,
	}
	metrics.IncTransition(string(t.Kind))

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	err := m.store.Append(wctx, rec)
	cancel()
	metrics.ObserveStoreWrite(err)
	if err != nil {
		m.tracker.AddWriteError(err.Error())
		m.logger.Error("persist transition failed",
			zap.String("log_no", rec.LogNo),
			zap.String("item", p.Item),
			zap.String("kind", string(rec.Kind)),
			zap.Error(err))
		return
	}

	m.logger.Info("transition",
		zap.String("log_no", rec.LogNo),
		zap.String("item", p.Item),
		zap.String("kind", string(rec.Kind)),
		zap.String("description", rec.Description),
		zap.String("status", rec.Status))

	if m.publisher != nil {
		if err := m.publisher.Publish(rec); err != nil {
			m.logger.Warn("publish transition failed", zap.String("log_no", rec.LogNo), zap.Error(err))
		}
	}
}

func statusFor(p registry.Point, kind logic.Kind) string {
	if kind == logic.KindAlarm {
		return p.ActiveStatus
	}
	return logic.StatusNormal
}
