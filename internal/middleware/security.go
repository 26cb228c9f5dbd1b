// security.go provides Gin middleware that adds protective HTTP response
// headers to every API response.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/content-scheduler/content-scheduler/internal/config"
)

// hstsMaxAge is one year, in seconds.
const hstsMaxAge = 31536000

// apiContentSecurityPolicy forbids every resource type; the API only returns JSON.
const apiContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeadersMiddleware adds security headers suited to a JSON API.
// Strict-Transport-Security is sent only when the server terminates TLS itself
// (security.tls.enabled); behind a TLS proxy the proxy owns that header.
func SecurityHeadersMiddleware(tls config.TLSConfig) gin.HandlerFunc {
	hsts := "max-age=" + strconv.Itoa(hstsMaxAge) + "; includeSubDomains"

	return func(c *gin.Context) {
		if tls.Enabled {
			c.Header("Strict-Transport-Security", hsts)
		}
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Content-Security-Policy", apiContentSecurityPolicy)
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cross-Origin-Opener-Policy", "same-origin")
		c.Header("Cross-Origin-Resource-Policy", "same-origin")
		// Responses carry JWTs and OAuth URLs.
		c.Header("Cache-Control", "no-store")

		c.Next()
	}
}
