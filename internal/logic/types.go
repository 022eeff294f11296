// Package logic contains the pure edge-detection logic for monitored points.
// This package has NO external dependencies (no fieldbus, database, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "time"

// Kind classifies a transition.
type Kind string

const (
	// KindAlarm is emitted when a point's level goes active.
	KindAlarm Kind = "Alarm"
	// KindEvent is emitted when a point's level returns to inactive.
	KindEvent Kind = "Event"
)

// StatusNormal is the status text recorded for every Event transition.
const StatusNormal = "Normal"

// KindFor returns the transition kind for a point that changed to level.
func KindFor(level bool) Kind {
	if level {
		return KindAlarm
	}
	return KindEvent
}

// Sample is a single successful read of one point.
type Sample struct {
	Item  string
	Level bool // true = active
	Time  time.Time
}

// Transition is a detected level change on a single point.
type Transition struct {
	Item  string
	Kind  Kind
	Level bool
	Time  time.Time
}

// Counts tracks the number of each transition kind since startup.
type Counts struct {
	Alarms int
	Events int
}
