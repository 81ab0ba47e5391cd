// README: Firebase ID token authentication and role checks.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"nelo/internal/infra"
)

const (
	ctxUID    = "auth.uid"
	ctxRole   = "auth.role"
	ctxClaims = "auth.claims"

	RoleCustomer = "customer"
	RoleProvider = "provider"
	RoleDriver   = "driver"
	RoleAdmin    = "admin"
)

// Auth verifies the bearer token and stores the caller identity on the context.
// Callers without a role claim are customers.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role, _ := token.Claims["role"].(string)
		if role == "" {
			role = RoleCustomer
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, role)
		c.Set(ctxClaims, token.Claims)
		c.Next()
	}
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) string {
	return c.GetString(ctxRole)
}

// CallerClaim reads a string claim of the verified token.
func CallerClaim(c *gin.Context, key string) string {
	v, ok := c.Get(ctxClaims)
	if !ok {
		return ""
	}
	claims, _ := v.(map[string]interface{})
	s, _ := claims[key].(string)
	return s
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CallerRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden: " + strings.Join(roles, " or ") + " role required"})
	}
}
