package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/goatkit/tickettransfer/internal/apierrors"
)

// ContextAPIKeyName is the gin context key holding the matched key's name.
const ContextAPIKeyName = "api_key_name"

// APIKeyAuth accepts requests carrying one of keys (name -> secret) as a
// bearer token or X-API-Key header. An empty map disables the check.
func APIKeyAuth(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}

		token := extractToken(c)
		if token == "" {
			apierrors.Abort(c, apierrors.CodeUnauthorized)
			return
		}

		for name, secret := range keys {
			if secret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
				c.Set(ContextAPIKeyName, name)
				c.Next()
				return
			}
		}

		apierrors.Abort(c, apierrors.CodeInvalidToken)
	}
}

func extractToken(c *gin.Context) string {
	if authHeader := c.GetHeader("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return strings.TrimSpace(c.GetHeader("X-API-Key"))
}
