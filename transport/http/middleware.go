package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/IsSlashy/Protocol-01-sub006/core"
	"github.com/IsSlashy/Protocol-01-sub006/internal/logging"
	"github.com/IsSlashy/Protocol-01-sub006/ports"
	"github.com/IsSlashy/Protocol-01-sub006/service"
)

const identityKey = "p01Identity"

// AuthMiddleware accepts either a signed X-P01-Auth header or a bearer access
// token and rejects everything else.
func AuthMiddleware(verifier *service.Verifier, tokenizer ports.Tokenizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if header := c.GetHeader(service.HeaderAuth); header != "" && verifier != nil {
			identity, ok := verifier.AuthenticateHeader(c.Request.Context(), header)
			if !ok {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid auth header"})
				return
			}
			setIdentity(c, identity)
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if tokenizer == nil || len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		identity, err := tokenizer.ParseAccessToken(auth[7:])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		setIdentity(c, identity)
		c.Next()
	}
}

func setIdentity(c *gin.Context, identity core.Identity) {
	c.Set(identityKey, identity)
	c.Request = c.Request.WithContext(service.WithIdentity(c.Request.Context(), identity))
}

func identityFromGin(c *gin.Context) (core.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return core.Identity{}, false
	}
	identity, ok := v.(core.Identity)
	return identity, ok
}

// RequestLogger logs one line per request through logrus
func RequestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logging.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"status":     c.Writer.Status(),
			"latency_ms": time.Since(start).Milliseconds(),
			"client_ip":  c.ClientIP(),
		}
		entry := logger.WithFields(fields)
		if len(c.Errors) > 0 {
			entry = entry.WithError(c.Errors.Last())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}
