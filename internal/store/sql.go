package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sweeney/alarm-monitor/internal/logic"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const insertColumns = "log_no, date_time, type, description, status, machine"

// SQL is a Store backed by database/sql.
type SQL struct {
	db      *sql.DB
	dialect Dialect
	maxRows int
}

// Options tunes an SQL store.
type Options struct {
	MaxRows int // hard cap on Query results; 0 means DefaultLimit
}

// Open connects to driver/dsn and verifies the connection.
func Open(ctx context.Context, driver, dsn string, opts Options) (*SQL, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", d.Name, err)
	}
	if d.Name == SQLite.Name {
		// One connection serialises writers on the database file.
		db.SetMaxOpenConns(1)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: connect %s: %w", d.Name, err)
	}
	return New(db, d, opts), nil
}

// New wraps an already-open handle.
func New(db *sql.DB, d Dialect, opts Options) *SQL {
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultLimit
	}
	return &SQL{db: db, dialect: d, maxRows: maxRows}
}

// DB exposes the underlying handle for collaborators sharing the database (point registry).
func (s *SQL) DB() *sql.DB {
	return s.db
}

// Dialect returns the store's SQL dialect.
func (s *SQL) Dialect() Dialect {
	return s.dialect
}

// Migrate creates the tables and index if they do not exist.
func (s *SQL) Migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Append writes one record in its own transaction.
func (s *SQL) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: nil db", ErrWrite)
	}
	if !r.complete() {
		return fmt.Errorf("%w: incomplete record %+v", ErrWrite, r)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", ErrWrite, err)
	}
	query := fmt.Sprintf("INSERT INTO alarm_history (%s) VALUES (%s, %s, %s, %s, %s, %s)",
		insertColumns,
		s.dialect.Bind(1), s.dialect.Bind(2), s.dialect.Bind(3),
		s.dialect.Bind(4), s.dialect.Bind(5), s.dialect.Bind(6))
	if _, err := tx.ExecContext(ctx, query,
		r.LogNo, normalizeTime(r.Timestamp), string(r.Kind), r.Description, r.Status, r.Source); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%w: insert %s: %w", ErrWrite, r.LogNo, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit %s: %w", ErrWrite, r.LogNo, err)
	}
	return nil
}

// Query returns matching records, most recent first.
func (s *SQL) Query(ctx context.Context, f Filter) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("%w: nil db", ErrRead)
	}
	where, args := s.dialect.where(f)
	args = append(args, f.limit(s.maxRows))
	query := fmt.Sprintf("SELECT %s FROM alarm_history%s ORDER BY date_time DESC, log_no DESC LIMIT %s",
		insertColumns, where, s.dialect.Bind(len(args)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			r                           Record
			kind                        string
			description, status, source sql.NullString
		)
		if err := rows.Scan(&r.LogNo, &r.Timestamp, &kind, &description, &status, &source); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrRead, err)
		}
		r.Timestamp = r.Timestamp.UTC()
		r.Kind = logic.Kind(kind)
		r.Description = description.String
		r.Status = status.String
		r.Source = source.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRead, err)
	}
	return records, nil
}

// Count returns the number of matching records, ignoring Limit.
func (s *SQL) Count(ctx context.Context, f Filter) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("%w: nil db", ErrRead)
	}
	where, args := s.dialect.where(f)
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM alarm_history"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrRead, err)
	}
	return n, nil
}

// Distinct lists the values present in field, prefixed with All.
func (s *SQL) Distinct(ctx context.Context, field Field) ([]string, error) {
	if s == nil || s.db == nil {
		return []string{All}, fmt.Errorf("%w: nil db", ErrRead)
	}
	column, err := columnFor(field)
	if err != nil {
		return []string{All}, err
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT DISTINCT %s FROM alarm_history WHERE %s IS NOT NULL", column, column))
	if err != nil {
		return []string{All}, fmt.Errorf("%w: distinct %s: %w", ErrRead, field, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return []string{All}, fmt.Errorf("%w: distinct %s: %w", ErrRead, field, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return []string{All}, fmt.Errorf("%w: distinct %s: %w", ErrRead, field, err)
	}
	return withAll(values), nil
}

// Ping checks connectivity.
func (s *SQL) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("%w: nil db", ErrRead)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: ping: %w", ErrRead, err)
	}
	return nil
}

// Close releases the database handle.
func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func columnFor(field Field) (string, error) {
	switch field {
	case FieldDescription:
		return "description", nil
	case FieldStatus:
		return "status", nil
	case FieldSource:
		return "machine", nil
	}
	return "", fmt.Errorf("store: unknown field %q", field)
}
