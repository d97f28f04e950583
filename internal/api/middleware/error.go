package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/helioworks/sunwatch-backend-go/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Recovery converts handler panics into a JSON 500 instead of killing
// the connection.
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(logrus.Fields{
					"panic": r,
					"path":  c.Request.URL.Path,
				}).Error("Handler panicked")
				utils.SendError(c, http.StatusInternalServerError, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}
