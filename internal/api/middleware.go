package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// OwnerMiddleware stores the caller identity in the context. Authentication
// happens in front of the gateway; an absent header means no owner.
func OwnerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("owner", strings.TrimSpace(c.GetHeader(HeaderOwner)))
		c.Next()
	}
}

func owner(c *gin.Context) string {
	return c.GetString("owner")
}

// RequestLogger logs one structured line per request.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).Round(time.Millisecond).String(),
			"client":   c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= 500:
			entry.Warn("request failed")
		default:
			entry.Info("request")
		}
	}
}
