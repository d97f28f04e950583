package database

import (
	"github.com/helioworks/sunwatch-backend-go/internal/database/repositories"
	"github.com/helioworks/sunwatch-backend-go/internal/database/sqlite"
	"github.com/jmoiron/sqlx"
)

// Repositories bundles all repository implementations
type Repositories struct {
	Alerts      repositories.AlertRepository
	Deliveries  repositories.DeliveryRepository
	RuleConfigs repositories.RuleConfigRepository
}

// NewRepositories creates all repositories backed by the given database
func NewRepositories(db *sqlx.DB) *Repositories {
	return &Repositories{
		Alerts:      sqlite.NewAlertRepository(db),
		Deliveries:  sqlite.NewDeliveryRepository(db),
		RuleConfigs: sqlite.NewRuleConfigRepository(db),
	}
}
