package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/internal/database/repositories"
	"github.com/jmoiron/sqlx"
)

// DeliveryRepository implements repositories.DeliveryRepository over sqlite
type DeliveryRepository struct {
	db *sqlx.DB
}

// NewDeliveryRepository creates a new DeliveryRepository
func NewDeliveryRepository(db *sqlx.DB) repositories.DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// CreateDeliveryRecord appends one audit entry. Records are never updated.
func (r *DeliveryRepository) CreateDeliveryRecord(ctx context.Context, record *alerts.DeliveryRecord) error {
	query := `
		INSERT INTO delivery_records (id, alert_id, channel, attempt, status, last_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.AlertID, record.Channel, record.Attempt,
		record.Status, record.LastError, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery record: %w", err)
	}
	return nil
}

// GetDeliveriesByAlert returns the delivery trail for one alert, oldest first
func (r *DeliveryRepository) GetDeliveriesByAlert(ctx context.Context, alertID string) ([]*alerts.DeliveryRecord, error) {
	query := `
		SELECT id, alert_id, channel, attempt, status, last_error, created_at
		FROM delivery_records
		WHERE alert_id = ?
		ORDER BY created_at ASC
	`
	var records []*alerts.DeliveryRecord
	if err := r.db.SelectContext(ctx, &records, query, alertID); err != nil {
		return nil, fmt.Errorf("failed to get delivery records: %w", err)
	}
	return records, nil
}

// CleanupOldRecords prunes audit rows past the retention horizon
func (r *DeliveryRepository) CleanupOldRecords(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM delivery_records WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup delivery records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
