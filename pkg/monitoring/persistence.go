package monitoring

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLStore persists metric summaries and alerts to PostgreSQL. Writes are
// best-effort from the service's point of view: the caller logs failures and
// moves on, the in-memory state stays authoritative.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates a metrics store and ensures its tables exist.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	store := &SQLStore{db: db}
	if err := store.ensureTables(); err != nil {
		return nil, fmt.Errorf("failed to ensure metrics tables: %w", err)
	}
	return store, nil
}

func (s *SQLStore) ensureTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS permission_metrics (
		id BIGSERIAL PRIMARY KEY,
		captured_at TIMESTAMP WITH TIME ZONE NOT NULL,
		summary JSONB NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_permission_metrics_captured_at ON permission_metrics(captured_at DESC);

	CREATE TABLE IF NOT EXISTS permission_alerts (
		id VARCHAR(64) PRIMARY KEY,
		alert_type VARCHAR(50) NOT NULL,
		severity VARCHAR(20) NOT NULL,
		message TEXT NOT NULL,
		triggered_at TIMESTAMP WITH TIME ZONE NOT NULL,
		acknowledged BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_permission_alerts_triggered_at ON permission_alerts(triggered_at DESC);
	CREATE INDEX IF NOT EXISTS idx_permission_alerts_acknowledged ON permission_alerts(acknowledged);
	`

	_, err := s.db.Exec(query)
	return err
}

// SaveSummary appends one serialized summary row.
func (s *SQLStore) SaveSummary(ctx context.Context, summary Summary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `INSERT INTO permission_metrics (captured_at, summary) VALUES ($1, $2)`
	if _, err := s.db.ExecContext(ctx, query, summary.Timestamp, payload); err != nil {
		return fmt.Errorf("failed to insert metrics summary: %w", err)
	}
	return nil
}

// SaveAlert inserts a fired alert.
func (s *SQLStore) SaveAlert(ctx context.Context, alert Alert) error {
	query := `
		INSERT INTO permission_alerts (id, alert_type, severity, message, triggered_at, acknowledged)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query,
		alert.ID,
		string(alert.Type),
		string(alert.Severity),
		alert.Message,
		alert.Timestamp,
		alert.Acknowledged,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// UpdateAlertAcknowledged mirrors an acknowledgement change.
func (s *SQLStore) UpdateAlertAcknowledged(ctx context.Context, alertID string, acknowledged bool) error {
	query := `UPDATE permission_alerts SET acknowledged = $1 WHERE id = $2`
	result, err := s.db.ExecContext(ctx, query, acknowledged, alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("alert not found: %s", alertID)
	}
	return nil
}

// ListSummaries returns persisted summaries captured at or after since,
// oldest first.
func (s *SQLStore) ListSummaries(ctx context.Context, since time.Time, limit int) ([]Summary, error) {
	query := `
		SELECT summary
		FROM permission_metrics
		WHERE captured_at >= $1
		ORDER BY captured_at ASC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query summaries: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		var summary Summary
		if err := json.Unmarshal(payload, &summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, rows.Err()
}

// ListAlerts returns persisted alerts triggered at or after since, newest
// first.
func (s *SQLStore) ListAlerts(ctx context.Context, since time.Time, limit int) ([]Alert, error) {
	query := `
		SELECT id, alert_type, severity, message, triggered_at, acknowledged
		FROM permission_alerts
		WHERE triggered_at >= $1
		ORDER BY triggered_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []Alert
	for rows.Next() {
		var alert Alert
		var alertType, severity string
		if err := rows.Scan(&alert.ID, &alertType, &severity, &alert.Message, &alert.Timestamp, &alert.Acknowledged); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alert.Type = AlertType(alertType)
		alert.Severity = AlertSeverity(severity)
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}
