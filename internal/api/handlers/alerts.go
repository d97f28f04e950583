package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/internal/database/repositories"
	"github.com/helioworks/sunwatch-backend-go/pkg/utils"
)

// ListAlerts returns alert history, newest first, filtered by query params
func (h *Handlers) ListAlerts(c *gin.Context) {
	filter := &repositories.AlertFilter{
		Status:   c.Query("status"),
		Type:     c.Query("type"),
		Severity: c.Query("severity"),
		Limit:    50,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			utils.SendError(c, http.StatusBadRequest, "limit must be an integer between 1 and 500")
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			utils.SendError(c, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	list, err := h.repos.Alerts.ListAlerts(c.Request.Context(), filter)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list alerts")
		utils.SendError(c, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	utils.SendSuccessWithMeta(c, list, gin.H{
		"count":  len(list),
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetAlert returns one alert with its delivery trail
func (h *Handlers) GetAlert(c *gin.Context) {
	id := c.Param("id")

	alert, err := h.repos.Alerts.GetAlert(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get alert")
		utils.SendError(c, http.StatusInternalServerError, "Failed to get alert")
		return
	}
	if alert == nil {
		utils.SendError(c, http.StatusNotFound, "Alert not found")
		return
	}

	deliveries, err := h.repos.Deliveries.GetDeliveriesByAlert(c.Request.Context(), id)
	if err != nil {
		h.logger.WithError(err).Error("Failed to get delivery records")
		utils.SendError(c, http.StatusInternalServerError, "Failed to get delivery records")
		return
	}

	utils.SendSuccess(c, gin.H{
		"alert":      alert,
		"deliveries": deliveries,
	})
}

// AcknowledgeAlert marks an active alert as seen, which stops escalation
func (h *Handlers) AcknowledgeAlert(c *gin.Context) {
	alert, err := h.state.Acknowledge(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sendLifecycleError(c, err)
		return
	}
	utils.SendSuccess(c, alert)
}

// ResolveAlert manually closes an alert
func (h *Handlers) ResolveAlert(c *gin.Context) {
	user := c.GetString("user_id")
	if user == "" {
		user = "manual"
	}

	alert, err := h.state.Resolve(c.Request.Context(), c.Param("id"), user)
	if err != nil {
		h.sendLifecycleError(c, err)
		return
	}
	utils.SendSuccess(c, alert)
}

// TestAlert fires a synthetic alert through the dispatcher without
// touching the evaluators.
func (h *Handlers) TestAlert(c *gin.Context) {
	var req struct {
		Severity string `json:"severity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Severity == "" {
		req.Severity = string(alerts.SeverityLow)
	}

	event, err := h.engine.TestAlert(c.Request.Context(), alerts.AlertSeverity(req.Severity))
	if err != nil {
		utils.SendError(c, http.StatusBadRequest, err.Error())
		return
	}
	utils.SendSuccess(c, event)
}

func (h *Handlers) sendLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, alerts.ErrAlertNotFound):
		utils.SendError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, alerts.ErrInvalidTransition):
		utils.SendError(c, http.StatusConflict, err.Error())
	default:
		h.logger.WithError(err).Error("Alert lifecycle operation failed")
		utils.SendError(c, http.StatusInternalServerError, "Alert operation failed")
	}
}
