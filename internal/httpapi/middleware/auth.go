package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/studio-assistant/internal/auth"
	"github.com/suPer8Hu/studio-assistant/internal/common"
)

const (
	UserIDKey = "user_id"
	ClaimsKey = "claims"
)

// Authenticator resolves a bearer token to its claims.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.Claims, error)
}

func AuthRequired(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(h, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			common.Fail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			c.Abort()
			return
		}

		claims, err := a.Authenticate(c.Request.Context(), strings.TrimSpace(token))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenRevoked):
				common.Fail(c, http.StatusUnauthorized, 40103, "token revoked")
			case errors.Is(err, auth.ErrInvalidToken):
				common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			default:
				common.Fail(c, http.StatusInternalServerError, 20001, "auth backend error")
			}
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID())
		c.Set(ClaimsKey, claims)
		c.Next()
	}
}

// Claims returns the claims set by AuthRequired.
func Claims(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}
