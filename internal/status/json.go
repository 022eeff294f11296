package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string      `json:"event,omitempty"`
	Reason        string      `json:"reason,omitempty"`
	State         string      `json:"state"`
	Running       bool        `json:"running"`
	Connected     bool        `json:"connected"`
	ActiveCount   int         `json:"active_count"`
	TotalCount    int         `json:"total_count"`
	UnreadCount   int         `json:"unread_count"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	StartTime     string      `json:"start_time,omitempty"`
	LastScan      string      `json:"last_scan,omitempty"`
	LastError     string      `json:"last_error,omitempty"`
	Timestamp     string      `json:"timestamp"`
	MQTT          MQTTStatus  `json:"mqtt"`
	Store         StoreStatus `json:"store"`
	Counts        CountsJSON  `json:"counts"`
	Config        ConfigJSON  `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// StoreStatus reports store connectivity.
type StoreStatus struct {
	Connected bool   `json:"connected"`
	Driver    string `json:"driver"`
}

// CountsJSON is the JSON representation of counters.
type CountsJSON struct {
	Scans           int `json:"scans"`
	Alarms          int `json:"alarms"`
	Events          int `json:"events"`
	ReadErrors      int `json:"read_errors"`
	WriteErrors     int `json:"write_errors"`
	ConnectFailures int `json:"connect_failures"`
}

// ConfigJSON is the JSON representation of monitor config.
type ConfigJSON struct {
	Source         string `json:"source"`
	InstanceID     string `json:"instance_id,omitempty"`
	Driver         string `json:"driver"`
	Device         string `json:"device"`
	ScanIntervalMs int64  `json:"scan_interval_ms"`
	HTTPAddr       string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	state := string(snap.State)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		State:         state,
		Running:       snap.Running,
		Connected:     snap.Connected,
		ActiveCount:   snap.ActiveCount,
		TotalCount:    snap.TotalCount,
		UnreadCount:   snap.UnreadCount,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     formatTime(snap.StartTime),
		LastScan:      formatTime(snap.LastScan),
		LastError:     snap.LastError,
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Store:         StoreStatus{Connected: snap.StoreConnected, Driver: snap.Config.Database},
		Counts: CountsJSON{
			Scans:           snap.Counters.Scans,
			Alarms:          snap.Counters.Alarms,
			Events:          snap.Counters.Events,
			ReadErrors:      snap.Counters.ReadErrors,
			WriteErrors:     snap.Counters.WriteErrors,
			ConnectFailures: snap.Counters.ConnectFailures,
		},
		Config: ConfigJSON{
			Source:         snap.Config.Source,
			InstanceID:     snap.Config.InstanceID,
			Driver:         snap.Config.Driver,
			Device:         snap.Config.Device,
			ScanIntervalMs: snap.Config.ScanInterval.Milliseconds(),
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
