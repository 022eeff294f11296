// Package status provides a thread-safe status tracker for the alarm monitor.
// The scan loop writes it; HTTP handlers and the status logger read snapshots.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/alarm-monitor/internal/logic"
)

// State is the monitor lifecycle state.
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateScanning   State = "SCANNING"
	StateStopped    State = "STOPPED"
)

// Config contains monitor configuration for display.
type Config struct {
	Source       string
	InstanceID   string
	Driver       string // fieldbus driver
	Device       string // device address or chip
	ScanInterval time.Duration
	Database     string // store driver
	Broker       string
	HTTPAddr     string
}

// Counters accumulate since the monitor was created.
type Counters struct {
	Scans           int
	Alarms          int
	Events          int
	ReadErrors      int
	WriteErrors     int
	ConnectFailures int
}

// Snapshot is a point-in-time view of monitor state.
// It is a value type and stays valid after the lock is released.
type Snapshot struct {
	State     State
	Running   bool
	Connected bool

	ActiveCount int // enabled points whose last level is active
	TotalCount  int // enabled points
	UnreadCount int // enabled points not yet read successfully

	Counters  Counters
	LastScan  time.Time
	LastError string

	StartTime time.Time
	Now       time.Time

	MQTTConnected  bool
	StoreConnected bool
	Config         Config
}

// Uptime returns the duration since the monitor last started, or zero if it never did.
func (s Snapshot) Uptime() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable monitor state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates an idle Tracker for total enabled points.
func NewTracker(total int, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			State:       StateIdle,
			TotalCount:  total,
			UnreadCount: total,
			Config:      cfg,
		},
	}
}

// Started records a run starting at t.
func (t *Tracker) Started(at time.Time) {
	t.mu.Lock()
	t.snap.StartTime = at
	t.snap.Running = true
	t.snap.State = StateConnecting
	t.mu.Unlock()
}

// SetState sets the lifecycle state. Stopped also clears Running and Connected.
func (t *Tracker) SetState(s State) {
	t.mu.Lock()
	t.snap.State = s
	if s == StateStopped {
		t.snap.Running = false
		t.snap.Connected = false
	}
	t.mu.Unlock()
}

// SetConnected sets the fieldbus connection status.
func (t *Tracker) SetConnected(connected bool) {
	t.mu.Lock()
	t.snap.Connected = connected
	t.mu.Unlock()
}

// RecordScan stores the outcome of one completed scan.
func (t *Tracker) RecordScan(active, unread int, counts logic.Counts, at time.Time) {
	t.mu.Lock()
	t.snap.ActiveCount = active
	t.snap.UnreadCount = unread
	t.snap.Counters.Scans++
	t.snap.Counters.Alarms = counts.Alarms
	t.snap.Counters.Events = counts.Events
	t.snap.LastScan = at
	t.mu.Unlock()
}

// AddReadError counts one failed point read.
func (t *Tracker) AddReadError(msg string) {
	t.mu.Lock()
	t.snap.Counters.ReadErrors++
	t.snap.LastError = msg
	t.mu.Unlock()
}

// AddWriteError counts one failed append.
func (t *Tracker) AddWriteError(msg string) {
	t.mu.Lock()
	t.snap.Counters.WriteErrors++
	t.snap.LastError = msg
	t.mu.Unlock()
}

// AddConnectFailure counts one failed connect attempt.
func (t *Tracker) AddConnectFailure(msg string) {
	t.mu.Lock()
	t.snap.Counters.ConnectFailures++
	t.snap.Connected = false
	t.snap.LastError = msg
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetStoreConnected sets the store connectivity status.
func (t *Tracker) SetStoreConnected(connected bool) {
	t.mu.Lock()
	t.snap.StoreConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the monitor state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
