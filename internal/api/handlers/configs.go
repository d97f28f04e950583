package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	pkgerrors "github.com/helioworks/sunwatch-backend-go/pkg/errors"
	"github.com/helioworks/sunwatch-backend-go/pkg/utils"
)

// GetRuleConfig returns the active rule config for one alert type
func (h *Handlers) GetRuleConfig(c *gin.Context) {
	alertType := c.Param("type")

	cfg, ok := h.engine.RuleConfig(alertType)
	if !ok {
		utils.SendError(c, http.StatusNotFound, "Unknown alert type")
		return
	}
	utils.SendSuccess(c, cfg)
}

// ListRuleConfigs returns the active config for every alert type
func (h *Handlers) ListRuleConfigs(c *gin.Context) {
	configs := make(map[string]*alerts.AlertRuleConfig, len(alerts.KnownAlertTypes))
	for _, t := range alerts.KnownAlertTypes {
		if cfg, ok := h.engine.RuleConfig(t); ok {
			configs[t] = cfg
		}
	}
	utils.SendSuccess(c, configs)
}

// UpdateRuleConfig validates and persists a rule config, then swaps it
// into the running engine. An invalid payload is rejected with every
// failing field reported and leaves the previous config untouched.
func (h *Handlers) UpdateRuleConfig(c *gin.Context) {
	alertType := c.Param("type")

	var cfg alerts.AlertRuleConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	cfg.AlertType = alertType

	if err := cfg.Validate(); err != nil {
		var verr *pkgerrors.ValidationError
		if errors.As(err, &verr) {
			utils.SendErrorWithDetails(c, verr.StatusCode(), "Rule config validation failed", verr.Fields)
			return
		}
		utils.SendError(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	if err := h.repos.RuleConfigs.Save(c.Request.Context(), &cfg); err != nil {
		h.logger.WithError(err).Error("Failed to save rule config")
		utils.SendError(c, http.StatusInternalServerError, "Failed to save rule config")
		return
	}

	h.engine.SetRuleConfig(&cfg)
	utils.SendSuccess(c, &cfg)
}
