// Package auth gates administrative endpoints behind a shared secret.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAdminSecret carries the shared admin secret.
	HeaderAdminSecret = "X-Admin-Secret"
	// HeaderOperator optionally names the person behind an admin request.
	HeaderOperator = "X-Operator"

	// ContextKeyAdmin is set to true once a request passed RequireAdmin.
	ContextKeyAdmin = "authAdmin"
	// ContextKeyOperator holds the operator name, if one was sent.
	ContextKeyOperator = "authOperator"
)

// RequireAdmin checks the X-Admin-Secret header against secret.
//
// When secret is empty the gate is open if openWhenUnset is true (local
// development) and closed otherwise.
func RequireAdmin(secret string, openWhenUnset bool) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if secret == "" {
			if !openWhenUnset {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Admin access is not configured",
				})
				return
			}
		} else {
			got := []byte(c.GetHeader(HeaderAdminSecret))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "forbidden",
					"message": "Invalid admin secret",
				})
				return
			}
		}

		c.Set(ContextKeyAdmin, true)
		if op := strings.TrimSpace(c.GetHeader(HeaderOperator)); op != "" {
			c.Set(ContextKeyOperator, op)
		}
		c.Next()
	}
}

// IsAdmin reports whether the request passed RequireAdmin.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(ContextKeyAdmin)
}

// Operator returns the operator name sent with an admin request, or
// fallback.
func Operator(c *gin.Context, fallback string) string {
	if op := c.GetString(ContextKeyOperator); op != "" {
		return op
	}
	return fallback
}
