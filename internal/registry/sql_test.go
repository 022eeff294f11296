package registry

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mappingColumns = []string{"item", "description", "address", "read_function", "active_status", "priority", "enabled"}

func setupMockMappingDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestSQLSource_LoadPoints(t *testing.T) {
	db, mock := setupMockMappingDB(t)

	rows := sqlmock.NewRows(mappingColumns).
		AddRow("1", "Pump 3 Overheat", int64(5), "01", "HIGH_TEMP", 1, true).
		AddRow("2", "Door Open", int64(1), "discrete", "OPEN", 0, false)
	mock.ExpectQuery("SELECT item").WillReturnRows(rows)

	points, err := NewSQLSource(db).LoadPoints(context.Background())
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "1", points[0].Item)
	assert.Equal(t, uint16(5), points[0].Address)
	assert.Equal(t, ReadCoil, points[0].ReadFunction)
	assert.Equal(t, "HIGH_TEMP", points[0].ActiveStatus)
	assert.True(t, points[0].Enabled)

	assert.Equal(t, ReadDiscrete, points[1].ReadFunction)
	assert.False(t, points[1].Enabled)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_LoadPoints_QueryError(t *testing.T) {
	db, mock := setupMockMappingDB(t)
	mock.ExpectQuery("SELECT item").WillReturnError(errors.New("no such table"))

	points, err := NewSQLSource(db).LoadPoints(context.Background())
	assert.Error(t, err)
	assert.Nil(t, points)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSource_LoadPoints_BadRow(t *testing.T) {
	db, mock := setupMockMappingDB(t)

	rows := sqlmock.NewRows(mappingColumns).
		AddRow("1", "Analog", int64(5), "03", "HIGH", 0, true)
	mock.ExpectQuery("SELECT item").WillReturnRows(rows)

	_, err := NewSQLSource(db).LoadPoints(context.Background())
	assert.Error(t, err)
}

func TestSQLSource_LoadPoints_AddressOutOfRange(t *testing.T) {
	db, mock := setupMockMappingDB(t)

	rows := sqlmock.NewRows(mappingColumns).
		AddRow("1", "Wide", int64(70000), "coil", "HIGH", 0, true)
	mock.ExpectQuery("SELECT item").WillReturnRows(rows)

	_, err := NewSQLSource(db).LoadPoints(context.Background())
	assert.Error(t, err)
}

func TestSQLSource_NilDB(t *testing.T) {
	var s *SQLSource
	_, err := s.LoadPoints(context.Background())
	assert.Error(t, err)
}

func TestSeed(t *testing.T) {
	db, mock := setupMockMappingDB(t)
	bind := func(n int) string { return "$" + strconv.Itoa(n) }

	pts := samplePoints()[:1]
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM alarm_mapping").
		WithArgs("1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO alarm_mapping").
		WithArgs("1", "Pump 3 Overheat", int64(5), "coil", "HIGH_TEMP", 0, true, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	n, err := Seed(context.Background(), db, bind, pts)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_RollsBackOnError(t *testing.T) {
	db, mock := setupMockMappingDB(t)
	bind := func(int) string { return "?" }

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM alarm_mapping").
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err := Seed(context.Background(), db, bind, samplePoints())
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSeed_RejectsInvalidPoints(t *testing.T) {
	db, _ := setupMockMappingDB(t)
	pts := []Point{{Item: "1", ReadFunction: ReadCoil}, {Item: "1", ReadFunction: ReadCoil}}

	_, err := Seed(context.Background(), db, func(int) string { return "?" }, pts)
	assert.ErrorIs(t, err, ErrDuplicateItem)
}
