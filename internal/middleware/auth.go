package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/lensfusion/internal/auth"
	"github.com/charlesng35/lensfusion/pkg/errors"
	"github.com/charlesng35/lensfusion/pkg/logger"
	"github.com/charlesng35/lensfusion/pkg/response"
)

const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
	// CtxSessionIDKey holds the caller's local session pointer from X-Session-ID.
	CtxSessionIDKey = "sessionID"
)

// SessionHeader carries the session id the client persisted after sign-in.
const SessionHeader = "X-Session-ID"

// Auth enforces JWT authentication against the identity provider's tokens.
// Signed-out tokens are rejected through revoker when one is supplied.
// WebSocket clients, which cannot set headers, may pass the token as the
// access_token query parameter.
func Auth(jwt *iauth.JWTService, revoker *iauth.Revoker) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			unauthorized(c)
			return
		}

		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			unauthorized(c)
			return
		}

		if revoker != nil {
			revoked, err := revoker.IsRevoked(c.Request.Context(), claims.ID)
			if err != nil {
				logger.WithModule("auth").Warn("denylist lookup failed", zap.Error(err))
				response.Error(c, errors.ErrInternalServer)
				c.Abort()
				return
			}
			if revoked {
				unauthorized(c)
				return
			}
		}

		principal := iauth.PrincipalFromClaims(claims)
		c.Request = c.Request.WithContext(iauth.WithPrincipal(c.Request.Context(), principal))
		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		if sessionID := strings.TrimSpace(c.GetHeader(SessionHeader)); sessionID != "" {
			c.Set(CtxSessionIDKey, sessionID)
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	response.Error(c, errors.ErrUnauthorized)
	c.Abort()
}
