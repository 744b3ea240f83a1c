package monitoring

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock
}

func TestNewSQLStore(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS permission_metrics").WillReturnResult(sqlmock.NewResult(0, 0))

		store, err := NewSQLStore(db)
		require.NoError(t, err)
		assert.NotNil(t, store)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		store, err := NewSQLStore(nil)
		assert.Error(t, err)
		assert.Nil(t, store)
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS permission_metrics").WillReturnError(errors.New("boom"))

		store, err := NewSQLStore(db)
		assert.Error(t, err)
		assert.Nil(t, store)
		assert.Contains(t, err.Error(), "failed to ensure metrics tables")
	})
}

func TestSQLStore_SaveSummary(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := &SQLStore{db: db}
	summary := Summary{Timestamp: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)}

	mock.ExpectExec("INSERT INTO permission_metrics").
		WithArgs(summary.Timestamp, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.SaveSummary(context.Background(), summary)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_SaveAlert(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := &SQLStore{db: db}
	alert := Alert{
		ID:        "alert-1",
		Type:      AlertHighDenialRate,
		Severity:  SeverityWarning,
		Message:   "denial rate 0.20 above ceiling 0.10",
		Timestamp: time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO permission_alerts").
		WithArgs(alert.ID, "high_denial_rate", "warning", alert.Message, alert.Timestamp, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.SaveAlert(context.Background(), alert)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateAlertAcknowledged(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := &SQLStore{db: db}

		mock.ExpectExec("UPDATE permission_alerts SET acknowledged").
			WithArgs(true, "alert-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := store.UpdateAlertAcknowledged(context.Background(), "alert-1", true)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing alert", func(t *testing.T) {
		db, mock := setupMockDB(t)
		defer db.Close()

		store := &SQLStore{db: db}

		mock.ExpectExec("UPDATE permission_alerts SET acknowledged").
			WithArgs(true, "nope").
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := store.UpdateAlertAcknowledged(context.Background(), "nope", true)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "alert not found")
	})
}

func TestSQLStore_ListAlerts(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := &SQLStore{db: db}
	since := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	triggered := since.Add(12 * time.Hour)

	rows := sqlmock.NewRows([]string{"id", "alert_type", "severity", "message", "triggered_at", "acknowledged"}).
		AddRow("alert-2", "unauthorized_attempt_spike", "error", "spike", triggered, false).
		AddRow("alert-1", "low_cache_hit_rate", "warning", "low hit rate", triggered.Add(-time.Hour), true)

	mock.ExpectQuery("SELECT id, alert_type, severity, message, triggered_at, acknowledged").
		WithArgs(since, 50).
		WillReturnRows(rows)

	alerts, err := store.ListAlerts(context.Background(), since, 50)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, AlertUnauthorizedSpike, alerts[0].Type)
	assert.Equal(t, SeverityError, alerts[0].Severity)
	assert.True(t, alerts[1].Acknowledged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_ListSummaries(t *testing.T) {
	db, mock := setupMockDB(t)
	defer db.Close()

	store := &SQLStore{db: db}
	since := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"summary"}).
		AddRow([]byte(`{"timestamp":"2026-08-28T12:00:00Z","permissions":{"checks":10}}`))

	mock.ExpectQuery("SELECT summary").
		WithArgs(since, 100).
		WillReturnRows(rows)

	summaries, err := store.ListSummaries(context.Background(), since, 100)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(10), summaries[0].Permissions.Checks)
	assert.NoError(t, mock.ExpectationsWereMet())
}
