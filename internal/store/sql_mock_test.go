package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/alarm-monitor/internal/logic"
)

func setupMockHistoryDB(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, Postgres, Options{}), mock
}

func TestSQL_Append_RollsBackOnInsertError(t *testing.T) {
	s, mock := setupMockHistoryDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO alarm_history").
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	err := s.Append(context.Background(), rec("1", 0, logic.KindAlarm, "Pump", "HIGH"))
	assert.ErrorIs(t, err, ErrWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Append_CommitError(t *testing.T) {
	s, mock := setupMockHistoryDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO alarm_history").
		WithArgs("1", base, "Alarm", "Pump", "HIGH", "Mastercomm").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("connection reset"))

	err := s.Append(context.Background(), rec("1", 0, logic.KindAlarm, "Pump", "HIGH"))
	assert.ErrorIs(t, err, ErrWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Append_BeginError(t *testing.T) {
	s, mock := setupMockHistoryDB(t)
	mock.ExpectBegin().WillReturnError(sql.ErrConnDone)

	err := s.Append(context.Background(), rec("1", 0, logic.KindAlarm, "Pump", "HIGH"))
	assert.ErrorIs(t, err, ErrWrite)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestSQL_Query_Error(t *testing.T) {
	s, mock := setupMockHistoryDB(t)
	mock.ExpectQuery("SELECT log_no").WillReturnError(errors.New("relation does not exist"))

	got, err := s.Query(context.Background(), Filter{Kind: "Alarm"})
	assert.ErrorIs(t, err, ErrRead)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Query_PassesLimit(t *testing.T) {
	s, mock := setupMockHistoryDB(t)

	columns := []string{"log_no", "date_time", "type", "description", "status", "machine"}
	rows := sqlmock.NewRows(columns).
		AddRow("251201100002", base.Add(time.Minute), "Event", "Pump", "Normal", "Mastercomm").
		AddRow("251201100001", base, "Alarm", "Pump", nil, nil)
	mock.ExpectQuery(`SELECT log_no, date_time, type, description, status, machine FROM alarm_history WHERE type = \$1 ORDER BY date_time DESC, log_no DESC LIMIT \$2`).
		WithArgs("Alarm", 25).
		WillReturnRows(rows)

	got, err := s.Query(context.Background(), Filter{Kind: "Alarm", Limit: 25})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, logic.KindEvent, got[0].Kind)
	assert.Equal(t, "", got[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_Count_Error(t *testing.T) {
	s, mock := setupMockHistoryDB(t)
	mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("timeout"))

	_, err := s.Count(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrRead)
}

func TestSQL_Distinct_ErrorReturnsAll(t *testing.T) {
	s, mock := setupMockHistoryDB(t)
	mock.ExpectQuery("SELECT DISTINCT status").WillReturnError(errors.New("timeout"))

	got, err := s.Distinct(context.Background(), FieldStatus)
	assert.ErrorIs(t, err, ErrRead)
	assert.Equal(t, []string{All}, got)
}

func TestSQL_Ping_Error(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()
	s := New(db, SQLite, Options{})

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.ErrorIs(t, s.Ping(context.Background()), ErrRead)
}

func TestSQL_NilReceiver(t *testing.T) {
	var s *SQL
	assert.ErrorIs(t, s.Append(context.Background(), Record{}), ErrWrite)
	_, err := s.Query(context.Background(), Filter{})
	assert.ErrorIs(t, err, ErrRead)
	assert.NoError(t, s.Close())
}

func TestSQL_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, "postgres", dsn, Options{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))

	source := "it-" + time.Now().UTC().Format("150405.000000")
	r := rec("251201100001", 0, logic.KindAlarm, "Pump 3 Overheat", "FAULT")
	r.Source = source
	require.NoError(t, s.Append(ctx, r))

	got, err := s.Query(ctx, Filter{Source: source, Status: "fault", FreeText: "PUMP"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(base))
}
