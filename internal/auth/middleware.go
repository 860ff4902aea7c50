package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const principalKey = "principal"

// AuthMiddleware validates the bearer token and stores the principal in
// the gin context.
func (a *AuthService) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing authorization header",
			})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid authorization header format",
			})
			return
		}

		principal, err := a.ValidateToken(c.Request.Context(), parts[1], c.ClientIP(), c.GetHeader("User-Agent"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// RequirePermission rejects callers lacking required.
func RequirePermission(required Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		p := PrincipalFrom(c)
		if p == nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "no permissions found",
			})
			return
		}

		if !p.Has(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient permissions",
				"required": string(required),
			})
			return
		}

		c.Next()
	}
}

// PrincipalFrom returns the caller stored by AuthMiddleware, or nil.
func PrincipalFrom(c *gin.Context) *Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*Principal)
	return p
}
