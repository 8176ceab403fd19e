// README: Bearer-token auth middleware; resolves the caller and stores it on the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ridesync/internal/modules/orderstore"
	"ridesync/internal/types"
)

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	ParseToken(raw string) (orderstore.Principal, error)
}

const (
	callerIDKey     = "caller_id"
	callerDriverKey = "caller_is_driver"
)

// Auth rejects requests without a valid bearer token with 401.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "missing bearer token"})
			return
		}
		p, err := verifier.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "invalid token"})
			return
		}
		c.Set(callerIDKey, p.UserID)
		c.Set(callerDriverKey, p.IsDriver)
		c.Next()
	}
}

// CallerID returns the authenticated user id, or "" outside Auth.
func CallerID(c *gin.Context) types.ID {
	v, _ := c.Get(callerIDKey)
	id, _ := v.(types.ID)
	return id
}

func CallerIsDriver(c *gin.Context) bool {
	return c.GetBool(callerDriverKey)
}
