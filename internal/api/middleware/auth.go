package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/helioworks/sunwatch-backend-go/internal/config"
	"github.com/helioworks/sunwatch-backend-go/pkg/utils"
	"github.com/sirupsen/logrus"
)

// Auth validates Bearer JWTs on mutating routes. When auth is disabled in
// config the middleware is a no-op, which is the expected mode for a
// single-home deployment on a trusted LAN.
func Auth(cfg *config.AuthConfig, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.Enabled {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			utils.SendError(c, http.StatusUnauthorized, "Authorization header required")
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			utils.SendError(c, http.StatusUnauthorized, "Authorization header must use Bearer scheme")
			c.Abort()
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			logger.WithError(err).Debug("JWT validation failed")
			utils.SendError(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}

		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			if sub, err := claims.GetSubject(); err == nil {
				c.Set("user_id", sub)
			}
		}

		c.Next()
	}
}
