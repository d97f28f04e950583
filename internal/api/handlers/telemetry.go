package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/helioworks/sunwatch-backend-go/internal/core/alerts"
	"github.com/helioworks/sunwatch-backend-go/pkg/utils"
)

// PushSample accepts one telemetry sample and runs an evaluation tick.
// Inverters or gateways that can POST use this instead of polling mode.
func (h *Handlers) PushSample(c *gin.Context) {
	var sample alerts.TelemetrySample
	if err := c.ShouldBindJSON(&sample); err != nil {
		utils.SendError(c, http.StatusBadRequest, "Invalid telemetry payload")
		return
	}

	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	if sample.BatteryLevelPct < 0 || sample.BatteryLevelPct > 100 {
		utils.SendError(c, http.StatusBadRequest, "battery_level_pct must be between 0 and 100")
		return
	}
	if sample.SolarPowerKW < 0 || sample.ConsumptionKW < 0 {
		utils.SendError(c, http.StatusBadRequest, "power values must be non-negative")
		return
	}

	h.engine.HandleSample(c.Request.Context(), sample)
	utils.SendSuccess(c, gin.H{"accepted": true})
}
