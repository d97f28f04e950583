package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

// AlertRepository implements repositories.AlertRepository over sqlite
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository creates a new AlertRepository
func NewAlertRepository(db *sqlx.DB) repositories.AlertRepository {
	return &AlertRepository{db: db}
}

type alertRow struct {
	ID             string         `db:"id"`
	Type           string         `db:"type"`
	Category       string         `db:"category"`
	Severity       string         `db:"severity"`
	Status         string         `db:"status"`
	Message        string         `db:"message"`
	CreatedAt      time.Time      `db:"created_at"`
	AcknowledgedAt sql.NullTime   `db:"acknowledged_at"`
	ResolvedAt     sql.NullTime   `db:"resolved_at"`
	Evidence       sql.NullString `db:"evidence"`
	DedupKey       string         `db:"dedup_key"`
}

// SaveAlert inserts a new alert event
func (r *AlertRepository) SaveAlert(ctx context.Context, alert *alerts.AlertEvent) error {
	evidence, err := marshalEvidence(alert.Evidence)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO alerts (id, type, category, severity, status, message, created_at,
		                    acknowledged_at, resolved_at, evidence, dedup_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID, alert.Type, alert.Category, string(alert.Severity), string(alert.Status),
		alert.Message, alert.CreatedAt, alert.AcknowledgedAt, alert.ResolvedAt,
		evidence, alert.DedupKey,
	)
	if err != nil {
		return fmt.Errorf("failed to save alert: %w", err)
	}
	return nil
}

// UpdateAlert persists lifecycle and merge mutations of an existing alert
func (r *AlertRepository) UpdateAlert(ctx context.Context, alert *alerts.AlertEvent) error {
	evidence, err := marshalEvidence(alert.Evidence)
	if err != nil {
		return err
	}

	query := `
		UPDATE alerts
		SET severity = ?, status = ?, message = ?, acknowledged_at = ?, resolved_at = ?, evidence = ?
		WHERE id = ?
	`
	res, err := r.db.ExecContext(ctx, query,
		string(alert.Severity), string(alert.Status), alert.Message,
		alert.AcknowledgedAt, alert.ResolvedAt, evidence, alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("alert %s not found", alert.ID)
	}
	return nil
}

// LoadActiveAlerts returns all non-resolved alerts, oldest first
func (r *AlertRepository) LoadActiveAlerts(ctx context.Context) ([]*alerts.AlertEvent, error) {
	query := `
		SELECT id, type, category, severity, status, message, created_at,
		       acknowledged_at, resolved_at, evidence, dedup_key
		FROM alerts
		WHERE status != 'resolved'
		ORDER BY created_at ASC
	`
	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to load active alerts: %w", err)
	}
	return rowsToEvents(rows)
}

// GetAlert returns one alert by id
func (r *AlertRepository) GetAlert(ctx context.Context, id string) (*alerts.AlertEvent, error) {
	query := `
		SELECT id, type, category, severity, status, message, created_at,
		       acknowledged_at, resolved_at, evidence, dedup_key
		FROM alerts
		WHERE id = ?
	`
	var row alertRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}
	return rowToEvent(row)
}

// ListAlerts returns alerts matching the filter, newest first
func (r *AlertRepository) ListAlerts(ctx context.Context, filter *repositories.AlertFilter) ([]*alerts.AlertEvent, error) {
	query := `
		SELECT id, type, category, severity, status, message, created_at,
		       acknowledged_at, resolved_at, evidence, dedup_key
		FROM alerts
		WHERE 1=1
	`
	args := []interface{}{}

	if filter != nil {
		if filter.Status != "" {
			query += " AND status = ?"
			args = append(args, filter.Status)
		}
		if filter.Type != "" {
			query += " AND type = ?"
			args = append(args, filter.Type)
		}
		if filter.Severity != "" {
			query += " AND severity = ?"
			args = append(args, filter.Severity)
		}
	}

	query += " ORDER BY created_at DESC"

	if filter != nil {
		if filter.Limit > 0 {
			query += " LIMIT ?"
			args = append(args, filter.Limit)
		}
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	return rowsToEvents(rows)
}

func marshalEvidence(evidence map[string]interface{}) (string, error) {
	if evidence == nil {
		return "{}", nil
	}
	data, err := json.Marshal(evidence)
	if err != nil {
		return "", fmt.Errorf("failed to encode evidence: %w", err)
	}
	return string(data), nil
}

func rowToEvent(row alertRow) (*alerts.AlertEvent, error) {
	event := &alerts.AlertEvent{
		ID:        row.ID,
		Type:      row.Type,
		Category:  row.Category,
		Severity:  alerts.AlertSeverity(row.Severity),
		Status:    alerts.AlertStatus(row.Status),
		Message:   row.Message,
		CreatedAt: row.CreatedAt,
		DedupKey:  row.DedupKey,
	}
	if row.AcknowledgedAt.Valid {
		t := row.AcknowledgedAt.Time
		event.AcknowledgedAt = &t
	}
	if row.ResolvedAt.Valid {
		t := row.ResolvedAt.Time
		event.ResolvedAt = &t
	}
	if row.Evidence.Valid && row.Evidence.String != "" {
		if err := json.Unmarshal([]byte(row.Evidence.String), &event.Evidence); err != nil {
			return nil, fmt.Errorf("failed to decode evidence for alert %s: %w", row.ID, err)
		}
	}
	return event, nil
}

func rowsToEvents(rows []alertRow) ([]*alerts.AlertEvent, error) {
	events := make([]*alerts.AlertEvent, 0, len(rows))
	for _, row := range rows {
		event, err := rowToEvent(row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}
