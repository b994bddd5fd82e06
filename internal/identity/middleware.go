package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RequireIssuer returns a Gin middleware that enforces a valid Bearer issuer
// token and injects its subject as the issuer reference.
func RequireIssuer(tokens *IssuerTokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxIssuerRef, claims.Subject)
		c.Next()
	}
}

// IssuerRefFromCtx retrieves the issuer reference injected by RequireIssuer.
func IssuerRefFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxIssuerRef)
	s, _ := v.(string)
	return s
}
