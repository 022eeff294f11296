// Package mqtt publishes persisted transitions and monitor lifecycle events,
// with an abstraction for testing.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/sweeney/alarm-monitor/internal/store"
)

// DefaultTopic is the transition topic template; {source} is the monitor's source name.
const DefaultTopic = "alarms/{source}/transitions"

// systemSuffix replaces the last topic level for lifecycle events.
const systemSuffix = "system"

// Publisher publishes monitor output to MQTT.
type Publisher interface {
	// Publish sends one persisted transition record.
	// Returns error if publishing fails (should not stop the scan loop).
	Publish(r store.Record) error

	// PublishSystem sends a system lifecycle event.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// Topics holds the resolved topic names for one source.
type Topics struct {
	Transitions string
	System      string
}

// ResolveTopics expands {source} in template and derives the system topic
// by replacing the last level with "system".
func ResolveTopics(template, source string) Topics {
	if template == "" {
		template = DefaultTopic
	}
	source = strings.NewReplacer("/", "_", "+", "_", "#", "_", " ", "_").Replace(source)
	transitions := strings.ReplaceAll(template, "{source}", source)

	system := systemSuffix
	if i := strings.LastIndex(transitions, "/"); i >= 0 {
		system = transitions[:i+1] + systemSuffix
	}
	return Topics{Transitions: transitions, System: system}
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, offline).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "RECONNECTED"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	Transition TransitionPayload `json:"transition"`
}

// TransitionPayload contains the record details.
type TransitionPayload struct {
	LogNo       string `json:"log_no"`
	Timestamp   string `json:"timestamp"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Source      string `json:"source"`
}

// FormatPayload creates the JSON payload for a transition record.
func FormatPayload(r store.Record) ([]byte, error) {
	payload := Payload{
		Transition: TransitionPayload{
			LogNo:       r.LogNo,
			Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
			Kind:        string(r.Kind),
			Description: r.Description,
			Status:      r.Status,
			Source:      r.Source,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// willPayload is the retained offline marker the broker publishes if the monitor disappears.
func willPayload() []byte {
	data, _ := json.Marshal(SystemPayload{System: SystemPayloadInner{Event: "OFFLINE", Reason: "connection lost"}})
	return data
}
