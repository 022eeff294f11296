package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
)

const selectMappingSQL = `
SELECT item, COALESCE(description, ''), address, read_function,
       COALESCE(active_status, ''), COALESCE(priority, 0), enabled
FROM alarm_mapping
ORDER BY position, item`

// SQLSource loads points from the alarm_mapping table.
type SQLSource struct {
	db *sql.DB
}

// NewSQLSource wraps an open database handle. The schema is owned by the store package.
func NewSQLSource(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

// LoadPoints reads every mapping row, enabled or not.
func (s *SQLSource) LoadPoints(ctx context.Context) ([]Point, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("registry: nil db")
	}
	rows, err := s.db.QueryContext(ctx, selectMappingSQL)
	if err != nil {
		return nil, fmt.Errorf("registry: query alarm_mapping: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var (
			p       Point
			address int64
			fn      string
		)
		if err := rows.Scan(&p.Item, &p.Description, &address, &fn, &p.ActiveStatus, &p.Priority, &p.Enabled); err != nil {
			return nil, fmt.Errorf("registry: scan alarm_mapping: %w", err)
		}
		if address < 0 || address > 0xFFFF {
			return nil, fmt.Errorf("registry: item %q: address %d out of range", p.Item, address)
		}
		p.Address = uint16(address)
		if p.ReadFunction, err = ParseReadFunction(fn); err != nil {
			return nil, fmt.Errorf("registry: item %q: %w", p.Item, err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterate alarm_mapping: %w", err)
	}
	return points, nil
}

// Seed inserts points into alarm_mapping, replacing rows with the same item.
// bind formats the n-th (1-based) placeholder for the target dialect.
func Seed(ctx context.Context, db *sql.DB, bind func(n int) string, points []Point) (int, error) {
	if db == nil {
		return 0, errors.New("registry: nil db")
	}
	if _, err := New(points); err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("registry: begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	del := "DELETE FROM alarm_mapping WHERE item = " + bind(1)
	ins := "INSERT INTO alarm_mapping (item, description, address, read_function, active_status, priority, enabled, position) VALUES ("
	for i := 1; i <= 8; i++ {
		if i > 1 {
			ins += ", "
		}
		ins += bind(i)
	}
	ins += ")"

	for i, p := range points {
		if _, err := tx.ExecContext(ctx, del, p.Item); err != nil {
			return 0, fmt.Errorf("registry: seed item %s: %w", strconv.Quote(p.Item), err)
		}
		if _, err := tx.ExecContext(ctx, ins,
			p.Item, p.Description, int64(p.Address), string(p.ReadFunction),
			p.ActiveStatus, p.Priority, p.Enabled, i); err != nil {
			return 0, fmt.Errorf("registry: seed item %s: %w", strconv.Quote(p.Item), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("registry: commit seed: %w", err)
	}
	return len(points), nil
}
