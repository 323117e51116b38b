package middleware

import (
	"crypto/subtle"
	"strings"

	"streamguard/pkg/errors"

	"github.com/gin-gonic/gin"
)

// TokenAuthMiddleware requires "Authorization: Bearer <token>" on every
// request. Websocket clients that cannot set headers may pass ?token=.
// An empty token disables the check.
func TokenAuthMiddleware(token string) gin.HandlerFunc {
	if token == "" {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	want := []byte(token)
	return func(c *gin.Context) {
		got := c.Query("token")
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			scheme, value, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" {
				abortWithAppError(c, errors.NewUnauthorizedError("invalid authorization header format"))
				return
			}
			got = value
		}

		if got == "" {
			abortWithAppError(c, errors.NewUnauthorizedError("authorization required"))
			return
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			abortWithAppError(c, errors.NewUnauthorizedError("invalid token"))
			return
		}
		c.Next()
	}
}
