// Package store persists transition records and answers filtered history queries.
//
// Two implementations share one filter semantics: SQL (SQLite or Postgres)
// and Memory. Records are append-only; nothing here updates or deletes them.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sweeney/alarm-monitor/internal/logic"
)

// All is the dropdown sentinel meaning "do not filter on this field".
const All = "All"

// DefaultLimit caps query results when the filter does not set one.
const DefaultLimit = 1000

var (
	// ErrWrite wraps every failure to persist a record.
	ErrWrite = errors.New("store: write failed")
	// ErrRead wraps every failure to read records.
	ErrRead = errors.New("store: read failed")
)

// Record is one persisted transition.
type Record struct {
	LogNo       string     `json:"log_no"`
	Timestamp   time.Time  `json:"timestamp"`
	Kind        logic.Kind `json:"kind"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Source      string     `json:"source"`
}

// complete reports whether every identifying field is set.
func (r Record) complete() bool {
	return r.LogNo != "" && !r.Timestamp.IsZero() && r.Kind != ""
}

// Field names a column that Distinct can enumerate.
type Field string

const (
	FieldDescription Field = "description"
	FieldStatus      Field = "status"
	FieldSource      Field = "source"
)

// Filter selects records. Zero values omit the field.
type Filter struct {
	Start *time.Time // inclusive
	End   *time.Time // inclusive

	Kind        string // exact
	Status      string // exact, case-insensitive (ASCII only on SQLite)
	Description string // exact
	Source      string // exact
	FreeText    string // substring of description, log_no or status, case-insensitive

	Limit int // <= 0 means DefaultLimit
}

// IsAll reports whether a selection value means "omit".
func IsAll(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, All)
}

// Matches reports whether r satisfies every field of f except Limit.
func (f Filter) Matches(r Record) bool {
	if f.Start != nil && r.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && r.Timestamp.After(*f.End) {
		return false
	}
	if !IsAll(f.Kind) && string(r.Kind) != f.Kind {
		return false
	}
	if !IsAll(f.Status) && strings.ToLower(r.Status) != strings.ToLower(f.Status) {
		return false
	}
	if !IsAll(f.Description) && r.Description != f.Description {
		return false
	}
	if !IsAll(f.Source) && r.Source != f.Source {
		return false
	}
	if f.FreeText != "" {
		needle := strings.ToLower(f.FreeText)
		if !strings.Contains(strings.ToLower(r.Description), needle) &&
			!strings.Contains(strings.ToLower(r.LogNo), needle) &&
			!strings.Contains(strings.ToLower(r.Status), needle) {
			return false
		}
	}
	return true
}

// limit returns the effective row cap, never above max when max > 0.
func (f Filter) limit(max int) int {
	n := f.Limit
	if n <= 0 {
		n = DefaultLimit
	}
	if max > 0 && n > max {
		n = max
	}
	return n
}

// Store is the persistence collaborator of the monitor and the query service.
type Store interface {
	Append(ctx context.Context, r Record) error
	Query(ctx context.Context, f Filter) ([]Record, error)
	Distinct(ctx context.Context, field Field) ([]string, error)
	Count(ctx context.Context, f Filter) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// normalizeTime truncates to whole seconds in UTC, the resolution records are kept at.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// withAll de-duplicates values, sorts them and prefixes the All sentinel.
func withAll(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := []string{All}
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out[1:])
	return out
}
