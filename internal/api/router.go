package api

import (
	"github.com/gin-gonic/gin"
	"github.com/helioworks/sunwatch-backend-go/internal/api/handlers"
	"github.com/helioworks/sunwatch-backend-go/internal/api/middleware"
	"github.com/helioworks/sunwatch-backend-go/internal/config"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter builds the HTTP surface. Reads are open; mutations sit
// behind JWT auth when it is enabled.
func NewRouter(cfg *config.Config, h *handlers.Handlers, logger *logrus.Logger) *gin.Engine {
	switch cfg.Server.Mode {
	case "production", "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.WebSocket)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/alerts", h.ListAlerts)
		v1.GET("/alerts/:id", h.GetAlert)
		v1.GET("/alert-configs", h.ListRuleConfigs)
		v1.GET("/alert-configs/:type", h.GetRuleConfig)

		authed := v1.Group("")
		authed.Use(middleware.Auth(&cfg.Auth, logger))
		{
			authed.POST("/alerts/:id/acknowledge", h.AcknowledgeAlert)
			authed.POST("/alerts/:id/resolve", h.ResolveAlert)
			authed.POST("/alerts/test", h.TestAlert)
			authed.PUT("/alert-configs/:type", h.UpdateRuleConfig)
			authed.POST("/telemetry", h.PushSample)
		}
	}

	return r
}
