package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/lensfusion/internal/middleware"
)

// IdentityProvider resolves the signed-in user and ends their sign-in.
type IdentityProvider interface {
	CurrentUserID(ctx context.Context) (string, error)
	SignOut(ctx context.Context) error
}

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentSessionID returns the session pointer the client sent, if any.
func currentSessionID(c *gin.Context) string {
	if v, ok := c.Get(middleware.CtxSessionIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return strings.TrimSpace(c.GetHeader(middleware.SessionHeader))
}
