// Package query turns user selections from the history screen into store
// filters and runs them.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sweeney/alarm-monitor/internal/logic"
	"github.com/sweeney/alarm-monitor/internal/store"
)

// Input layouts for date and time-of-day fields.
const (
	DateLayout      = "2006-01-02"
	TimeLayout      = "15:04:05"
	shortTimeLayout = "15:04"

	startOfDay = "00:00:00"
	endOfDay   = "23:59:59"
)

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("query: invalid selection")

// ValidationError reports one rejected selection field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// Unwrap makes errors.Is(err, ErrValidation) hold.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Selection is the raw filter input from the presentation layer.
// Dropdown values of "" or "All" select everything.
type Selection struct {
	FromDate string // 2006-01-02
	FromTime string // 15:04:05, defaults to 00:00:00
	ToDate   string
	ToTime   string // defaults to 23:59:59

	Kind        string
	Status      string
	Description string
	Source      string
	Search      string // free text

	Limit int
}

// ParseBound combines a date and an optional time of day into an instant in loc.
// An empty date yields nil. end selects the end-of-day default for an empty time.
func ParseBound(field, date, tod string, end bool, loc *time.Location) (*time.Time, error) {
	date = strings.TrimSpace(date)
	tod = strings.TrimSpace(tod)
	if date == "" {
		if tod != "" {
			return nil, &ValidationError{Field: field, Value: tod, Reason: "time given without a date"}
		}
		return nil, nil
	}
	if loc == nil {
		loc = time.Local
	}

	d, err := time.ParseInLocation(DateLayout, date, loc)
	if err != nil {
		return nil, &ValidationError{Field: field, Value: date, Reason: "want YYYY-MM-DD"}
	}

	if tod == "" {
		tod = startOfDay
		if end {
			tod = endOfDay
		}
	}
	clock, err := time.Parse(TimeLayout, tod)
	if err != nil {
		clock, err = time.Parse(shortTimeLayout, tod)
		if err != nil {
			return nil, &ValidationError{Field: field, Value: tod, Reason: "want HH:MM:SS"}
		}
	}

	t := time.Date(d.Year(), d.Month(), d.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, loc)
	return &t, nil
}

// BuildFilter validates sel and converts it to a store filter.
func BuildFilter(sel Selection, loc *time.Location) (store.Filter, error) {
	start, err := ParseBound("from", sel.FromDate, sel.FromTime, false, loc)
	if err != nil {
		return store.Filter{}, err
	}
	end, err := ParseBound("to", sel.ToDate, sel.ToTime, true, loc)
	if err != nil {
		return store.Filter{}, err
	}
	if start != nil && end != nil && start.After(*end) {
		return store.Filter{}, &ValidationError{
			Field:  "range",
			Reason: fmt.Sprintf("start %s is after end %s", start.Format(time.DateTime), end.Format(time.DateTime)),
		}
	}

	kind := strings.TrimSpace(sel.Kind)
	if !store.IsAll(kind) {
		k, ok := parseKind(kind)
		if !ok {
			return store.Filter{}, &ValidationError{Field: "kind", Value: kind, Reason: "want All, Alarm or Event"}
		}
		kind = string(k)
	}
	if sel.Limit < 0 {
		return store.Filter{}, &ValidationError{Field: "limit", Value: fmt.Sprint(sel.Limit), Reason: "must not be negative"}
	}

	return store.Filter{
		Start:       start,
		End:         end,
		Kind:        optional(kind),
		Status:      optional(sel.Status),
		Description: optional(sel.Description),
		Source:      optional(sel.Source),
		FreeText:    strings.TrimSpace(sel.Search),
		Limit:       sel.Limit,
	}, nil
}

func parseKind(s string) (logic.Kind, bool) {
	for _, k := range []logic.Kind{logic.KindAlarm, logic.KindEvent} {
		if strings.EqualFold(s, string(k)) {
			return k, true
		}
	}
	return "", false
}

// optional maps the All sentinel to the empty value.
func optional(v string) string {
	if store.IsAll(v) {
		return ""
	}
	return v
}

// Service answers history queries against a store.
type Service struct {
	store store.Store
	loc   *time.Location
}

// NewService creates a query service. Dates in selections are read in loc (nil = local).
func NewService(st store.Store, loc *time.Location) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: st, loc: loc}
}

// Search returns the records matching sel, newest first.
// On any failure it returns nil and the error.
func (s *Service) Search(ctx context.Context, sel Selection) ([]store.Record, error) {
	f, err := BuildFilter(sel, s.loc)
	if err != nil {
		return nil, err
	}
	records, err := s.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of records matching sel, ignoring Limit.
func (s *Service) Count(ctx context.Context, sel Selection) (int, error) {
	f, err := BuildFilter(sel, s.loc)
	if err != nil {
		return 0, err
	}
	return s.store.Count(ctx, f)
}

// Descriptions lists the recorded descriptions, prefixed with All.
func (s *Service) Descriptions(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, store.FieldDescription)
}

// Statuses lists the recorded statuses, prefixed with All.
func (s *Service) Statuses(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, store.FieldStatus)
}

// Sources lists the recorded source machines, prefixed with All.
func (s *Service) Sources(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, store.FieldSource)
}

func (s *Service) distinct(ctx context.Context, field store.Field) ([]string, error) {
	values, err := s.store.Distinct(ctx, field)
	if err != nil || len(values) == 0 {
		return []string{store.All}, err
	}
	return values, nil
}

// Kinds lists the kind dropdown values.
func Kinds() []string {
	return []string{store.All, string(logic.KindAlarm), string(logic.KindEvent)}
}

// Filters holds every dropdown list for the history screen.
type Filters struct {
	Kinds        []string `json:"kinds"`
	Descriptions []string `json:"descriptions"`
	Statuses     []string `json:"statuses"`
	Sources      []string `json:"sources"`
}

// Filters collects all dropdown values. Lists that fail to load hold only All;
// the errors are joined.
func (s *Service) Filters(ctx context.Context) (Filters, error) {
	descriptions, derr := s.Descriptions(ctx)
	statuses, serr := s.Statuses(ctx)
	sources, oerr := s.Sources(ctx)
	return Filters{
		Kinds:        Kinds(),
		Descriptions: descriptions,
		Statuses:     statuses,
		Sources:      sources,
	}, errors.Join(derr, serr, oerr)
}
