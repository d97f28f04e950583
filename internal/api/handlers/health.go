package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/helioworks/sunwatch-backend-go/pkg/utils"
	"github.com/helioworks/sunwatch-backend-go/pkg/version"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

var startTime = time.Now()

// Health reports service and host status for the dashboard's status page
func (h *Handlers) Health(c *gin.Context) {
	status := gin.H{
		"status":       "healthy",
		"version":      version.GetVersion(),
		"uptime":       time.Since(startTime).String(),
		"active":       len(h.state.ActiveAlerts()),
		"ws_clients":   h.hub.ClientCount(),
		"quiet_hours":  h.cfg.Engine.QuietHours.Enabled,
		"auto_resolve": h.cfg.Engine.AutoResolve,
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		status["memory_used_pct"] = vm.UsedPercent
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		status["cpu_pct"] = pct[0]
	}
	if uptime, err := host.Uptime(); err == nil {
		status["host_uptime_sec"] = uptime
	}

	utils.SendSuccess(c, status)
}

// WebSocket upgrades the connection and attaches it to the hub
func (h *Handlers) WebSocket(c *gin.Context) {
	if err := h.serveWS(c); err != nil {
		h.logger.WithError(err).Error("WebSocket upgrade failed")
		utils.SendError(c, http.StatusBadRequest, "WebSocket upgrade failed")
	}
}
