package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deckworks/deckd/internal/infrastructure/auth"
)

// Auth rejects requests whose presented token fails verification. Tokens
// arrive in the Authorization header or, for browser WebSocket clients,
// the token query parameter.
func Auth(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !verifier.Verify(auth.TokenFromRequest(c.Request)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}
