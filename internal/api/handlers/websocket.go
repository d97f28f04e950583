package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/helioworks/sunwatch-backend-go/internal/websocket"
)

func (h *Handlers) serveWS(c *gin.Context) error {
	return websocket.ServeWS(h.hub, c.Writer, c.Request)
}
