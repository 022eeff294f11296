package logic

// Detector tracks the last observed level of every point and detects changes.
// Not safe for concurrent use: the monitor loop is its only writer.
type Detector struct {
	levels   map[string]bool
	observed map[string]bool
	counts   Counts
}

// NewDetector creates a detector with every item initialised to inactive.
// Items are registered eagerly so never-read points can be told apart from
// inactive ones.
func NewDetector(items []string) *Detector {
	d := &Detector{
		levels:   make(map[string]bool, len(items)),
		observed: make(map[string]bool, len(items)),
	}
	for _, item := range items {
		d.levels[item] = false
	}
	return d
}

// Process records a reading and returns the transition it causes, if any.
// An unknown item is treated as previously inactive.
func (d *Detector) Process(s Sample) *Transition {
	previous := d.levels[s.Item]
	d.levels[s.Item] = s.Level
	d.observed[s.Item] = true

	if s.Level == previous {
		return nil
	}

	kind := KindFor(s.Level)
	switch kind {
	case KindAlarm:
		d.counts.Alarms++
	case KindEvent:
		d.counts.Events++
	}

	return &Transition{
		Item:  s.Item,
		Kind:  kind,
		Level: s.Level,
		Time:  s.Time,
	}
}

// Level returns the last observed level for item (false if never seen).
func (d *Detector) Level(item string) bool {
	return d.levels[item]
}

// ActiveCount returns the number of items whose last level is active.
func (d *Detector) ActiveCount() int {
	n := 0
	for _, on := range d.levels {
		if on {
			n++
		}
	}
	return n
}

// UnreadCount returns the number of registered items never observed.
func (d *Detector) UnreadCount() int {
	n := 0
	for item := range d.levels {
		if !d.observed[item] {
			n++
		}
	}
	return n
}

// Counts returns a copy of the transition counters.
func (d *Detector) Counts() Counts {
	return d.counts
}
