package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the few places where SQLite and Postgres differ.
type Dialect struct {
	Name       string // config name
	DriverName string // database/sql driver
	placeholder func(n int) string
	schema      []string
}

// Bind formats the n-th (1-based) query placeholder.
func (d Dialect) Bind(n int) string {
	return d.placeholder(n)
}

var (
	// SQLite uses modernc.org/sqlite (pure Go).
	SQLite = Dialect{
		Name:        "sqlite",
		DriverName:  "sqlite",
		placeholder: func(int) string { return "?" },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS alarm_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    log_no TEXT NOT NULL,
    date_time TIMESTAMP NOT NULL,
    type TEXT NOT NULL,
    description TEXT,
    status TEXT,
    machine TEXT
)`,
			`CREATE INDEX IF NOT EXISTS idx_alarm_history_date_time ON alarm_history (date_time)`,
			`CREATE TABLE IF NOT EXISTS alarm_mapping (
    item TEXT PRIMARY KEY,
    description TEXT,
    address INTEGER NOT NULL,
    read_function TEXT NOT NULL,
    active_status TEXT,
    priority INTEGER DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT 1,
    position INTEGER NOT NULL DEFAULT 0
)`,
		},
	}

	// Postgres uses github.com/jackc/pgx/v5/stdlib.
	Postgres = Dialect{
		Name:        "postgres",
		DriverName:  "pgx",
		placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
		schema: []string{
			`CREATE TABLE IF NOT EXISTS alarm_history (
    id BIGSERIAL PRIMARY KEY,
    log_no TEXT NOT NULL,
    date_time TIMESTAMPTZ NOT NULL,
    type TEXT NOT NULL,
    description TEXT,
    status TEXT,
    machine TEXT
)`,
			`CREATE INDEX IF NOT EXISTS idx_alarm_history_date_time ON alarm_history (date_time)`,
			`CREATE TABLE IF NOT EXISTS alarm_mapping (
    item TEXT PRIMARY KEY,
    description TEXT,
    address INTEGER NOT NULL,
    read_function TEXT NOT NULL,
    active_status TEXT,
    priority INTEGER DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    position INTEGER NOT NULL DEFAULT 0
)`,
		},
	}
)

// DialectFor resolves a configured driver name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return Dialect{}, fmt.Errorf("store: unknown driver %q", name)
}

// escapeLike escapes LIKE wildcards so user text matches literally with ESCAPE '\'.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// where renders the WHERE clause for f (without the keyword) and its arguments.
func (d Dialect) where(f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(format string, values ...any) {
		binds := make([]any, len(values))
		for i, v := range values {
			args = append(args, v)
			binds[i] = d.Bind(len(args))
		}
		conds = append(conds, fmt.Sprintf(format, binds...))
	}

	if f.Start != nil {
		add("date_time >= %s", normalizeTime(*f.Start))
	}
	if f.End != nil {
		add("date_time <= %s", normalizeTime(*f.End))
	}
	if !IsAll(f.Kind) {
		add("type = %s", f.Kind)
	}
	if !IsAll(f.Status) {
		add("LOWER(COALESCE(status, '')) = LOWER(%s)", f.Status)
	}
	if !IsAll(f.Description) {
		add("description = %s", f.Description)
	}
	if !IsAll(f.Source) {
		add("machine = %s", f.Source)
	}
	if f.FreeText != "" {
		pattern := "%" + escapeLike(strings.ToLower(f.FreeText)) + "%"
		add(`(LOWER(COALESCE(description, '')) LIKE %s ESCAPE '\' OR LOWER(log_no) LIKE %s ESCAPE '\' OR LOWER(COALESCE(status, '')) LIKE %s ESCAPE '\')`,
			pattern, pattern, pattern)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
