package repositories

import (
	"context"
	"time"

	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
)

// AlertFilter narrows alert listing queries
type AlertFilter struct {
	Status   string
	Type     string
	Severity string
	Limit    int
	Offset   int
}

// AlertRepository persists alert events. The engine never deletes history;
// resolved alerts remain until the external retention policy archives them.
type AlertRepository interface {
	SaveAlert(ctx context.Context, alert *alerts.AlertEvent) error
	UpdateAlert(ctx context.Context, alert *alerts.AlertEvent) error
	LoadActiveAlerts(ctx context.Context) ([]*alerts.AlertEvent, error)
	GetAlert(ctx context.Context, id string) (*alerts.AlertEvent, error)
	ListAlerts(ctx context.Context, filter *AlertFilter) ([]*alerts.AlertEvent, error)
}

// DeliveryRepository persists the append-only dispatch audit trail
type DeliveryRepository interface {
	CreateDeliveryRecord(ctx context.Context, record *alerts.DeliveryRecord) error
	GetDeliveriesByAlert(ctx context.Context, alertID string) ([]*alerts.DeliveryRecord, error)
	CleanupOldRecords(ctx context.Context, before time.Time) (int64, error)
}

// RuleConfigRepository persists validated alert rule configs
type RuleConfigRepository interface {
	Save(ctx context.Context, cfg *alerts.AlertRuleConfig) error
	Get(ctx context.Context, alertType string) (*alerts.AlertRuleConfig, error)
	LoadAll(ctx context.Context) ([]*alerts.AlertRuleConfig, error)
}
