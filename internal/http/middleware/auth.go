package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/chatrelay/internal/auth"
	"github.com/yungbote/chatrelay/internal/platform/ctxutil"
	"github.com/yungbote/chatrelay/internal/platform/logger"
)

type AuthMiddleware struct {
	log      *logger.Logger
	resolver auth.Resolver
}

func NewAuthMiddleware(log *logger.Logger, resolver auth.Resolver) *AuthMiddleware {
	middlewareLogger := log.With("Middleware", "AuthMiddleware")
	return &AuthMiddleware{log: middlewareLogger, resolver: resolver}
}

// RequireIdentity rejects unauthenticated requests with a plain "Unauthorized" body before the
// handler reads anything.
func (am *AuthMiddleware) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := am.resolver.Resolve(c.Request)
		if err != nil || id == nil {
			am.log.Debug("request rejected", "path", c.Request.URL.Path, "error", err)
			c.Data(http.StatusUnauthorized, "text/plain; charset=utf-8", []byte("Unauthorized"))
			c.Abort()
			return
		}
		c.Request = c.Request.WithContext(ctxutil.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// OptionalIdentity attaches the caller when a credential resolves and lets anonymous requests through.
func (am *AuthMiddleware) OptionalIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id, err := am.resolver.Resolve(c.Request); err == nil && id != nil {
			c.Request = c.Request.WithContext(ctxutil.WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	}
}
