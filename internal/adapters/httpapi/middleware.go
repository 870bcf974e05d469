package httpapi

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// CallerHeader carries the identity of the user acting on a public route.
// It is trusted as sent: devnet only, there is no wallet signature behind it.
const CallerHeader = "X-Caller"

// RequireAdminToken guards the admin group with a static bearer token.
// An empty token disables the admin API.
func RequireAdminToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			Error(c, http.StatusUnauthorized, "", "admin API disabled")
			c.Abort()
			return
		}
		auth := strings.TrimSpace(c.GetHeader("Authorization"))
		got, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			Error(c, http.StatusUnauthorized, "", "missing bearer token")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			Error(c, http.StatusUnauthorized, "", "invalid bearer token")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequestLogger logs every API request once it completes.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.Request.URL.Path
		if path == "/healthz" || path == "/readyz" {
			return
		}
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration", time.Since(start),
		}
		if caller := c.GetHeader(CallerHeader); caller != "" {
			attrs = append(attrs, "caller", caller)
		}
		switch {
		case status >= 500:
			slog.Error("http request", attrs...)
		case status >= 400:
			slog.Info("http request", attrs...)
		default:
			slog.Debug("http request", attrs...)
		}
	}
}

func caller(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(CallerHeader))
}
