package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process Store with the same filter semantics as SQL.
// Used by tests and by the -dry-run monitor.
// Case folding is Unicode here; SQLite's LOWER folds ASCII only, so a status
// or free-text match that differs only in the case of a non-ASCII letter
// ("ÉCHEC" vs "échec") matches in Memory but not in SQLite.
type Memory struct {
	mu       sync.RWMutex
	records  []Record
	maxRows  int
	writeErr error
	readErr  error
	closed   bool
}

// NewMemory creates an empty store; maxRows <= 0 means DefaultLimit.
func NewMemory(maxRows int) *Memory {
	if maxRows <= 0 {
		maxRows = DefaultLimit
	}
	return &Memory{maxRows: maxRows}
}

// FailWrites makes subsequent Appends fail with err (nil restores normal behaviour).
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// FailReads makes subsequent reads and pings fail with err (nil restores normal behaviour).
func (m *Memory) FailReads(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Append stores a copy of r.
func (m *Memory) Append(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("%w: store closed", ErrWrite)
	}
	if m.writeErr != nil {
		return fmt.Errorf("%w: %w", ErrWrite, m.writeErr)
	}
	if !r.complete() {
		return fmt.Errorf("%w: incomplete record %+v", ErrWrite, r)
	}
	r.Timestamp = normalizeTime(r.Timestamp)
	m.records = append(m.records, r)
	return nil
}

func (m *Memory) readable() error {
	if m.closed {
		return fmt.Errorf("%w: store closed", ErrRead)
	}
	if m.readErr != nil {
		return fmt.Errorf("%w: %w", ErrRead, m.readErr)
	}
	return nil
}

func (m *Memory) matching(f Filter) []Record {
	if f.Start != nil {
		start := normalizeTime(*f.Start)
		f.Start = &start
	}
	if f.End != nil {
		end := normalizeTime(*f.End)
		f.End = &end
	}
	var out []Record
	for _, r := range m.records {
		if f.Matches(r) {
			out = append(out, r)
		}
	}
	return out
}

// Query returns matching records, most recent first.
func (m *Memory) Query(_ context.Context, f Filter) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readable(); err != nil {
		return nil, err
	}
	out := m.matching(f)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].LogNo > out[j].LogNo
	})
	if n := f.limit(m.maxRows); len(out) > n {
		out = out[:n]
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// Count returns the number of matching records, ignoring Limit.
func (m *Memory) Count(_ context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readable(); err != nil {
		return 0, err
	}
	return len(m.matching(f)), nil
}

// Distinct lists the values present in field, prefixed with All.
func (m *Memory) Distinct(_ context.Context, field Field) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.readable(); err != nil {
		return []string{All}, err
	}
	if _, err := columnFor(field); err != nil {
		return []string{All}, err
	}
	values := make([]string, 0, len(m.records))
	for _, r := range m.records {
		switch field {
		case FieldDescription:
			values = append(values, r.Description)
		case FieldStatus:
			values = append(values, r.Status)
		case FieldSource:
			values = append(values, r.Source)
		}
	}
	return withAll(values), nil
}

// Ping fails only when reads are failing or the store is closed.
func (m *Memory) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.readable()
}

// Close marks the store closed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
