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

// RuleConfigRepository implements repositories.RuleConfigRepository over
// sqlite. Configs are stored as JSON so a saved config loads back as an
// identical structure.
type RuleConfigRepository struct {
	db *sqlx.DB
}

// NewRuleConfigRepository creates a new RuleConfigRepository
func NewRuleConfigRepository(db *sqlx.DB) repositories.RuleConfigRepository {
	return &RuleConfigRepository{db: db}
}

// Save upserts a validated rule config. Callers must validate first;
// invalid configs never reach this layer.
func (r *RuleConfigRepository) Save(ctx context.Context, cfg *alerts.AlertRuleConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode rule config: %w", err)
	}

	query := `
		INSERT INTO alert_rule_configs (alert_type, config, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(alert_type) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, cfg.AlertType, string(data), time.Now()); err != nil {
		return fmt.Errorf("failed to save rule config: %w", err)
	}
	return nil
}

// Get returns the config for one alert type, or nil when none is stored
func (r *RuleConfigRepository) Get(ctx context.Context, alertType string) (*alerts.AlertRuleConfig, error) {
	var raw string
	err := r.db.GetContext(ctx, &raw, `SELECT config FROM alert_rule_configs WHERE alert_type = ?`, alertType)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule config: %w", err)
	}

	var cfg alerts.AlertRuleConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode rule config for %s: %w", alertType, err)
	}
	return &cfg, nil
}

// LoadAll returns every stored rule config
func (r *RuleConfigRepository) LoadAll(ctx context.Context) ([]*alerts.AlertRuleConfig, error) {
	var raws []string
	if err := r.db.SelectContext(ctx, &raws, `SELECT config FROM alert_rule_configs`); err != nil {
		return nil, fmt.Errorf("failed to load rule configs: %w", err)
	}

	configs := make([]*alerts.AlertRuleConfig, 0, len(raws))
	for _, raw := range raws {
		var cfg alerts.AlertRuleConfig
		if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode rule config: %w", err)
		}
		configs = append(configs, &cfg)
	}
	return configs, nil
}
