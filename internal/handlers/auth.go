package handlers

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	iauth "github.com/charlesng35/lensfusion/internal/auth"
	"github.com/charlesng35/lensfusion/pkg/errors"
	"github.com/charlesng35/lensfusion/pkg/response"
)

// AuthHandler exposes the identity provider to the browser.
type AuthHandler struct {
	identity IdentityProvider
}

func NewAuthHandler(identity IdentityProvider) *AuthHandler {
	return &AuthHandler{identity: identity}
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	err := h.identity.SignOut(requestContext(c))
	switch {
	case err == nil:
	case stderrors.Is(err, iauth.ErrNotRevocable):
		response.Success(c, http.StatusOK, gin.H{"revoked": false})
		return
	default:
		response.Error(c, errors.ErrInternalServer.WithInternal(err))
		return
	}
	response.Success(c, http.StatusOK, gin.H{"revoked": true})
}

type meResponse struct {
	UserID    string     `json:"user_id"`
	SessionID string     `json:"session_id,omitempty"`
	ExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	userID, err := h.identity.CurrentUserID(requestContext(c))
	if err != nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	out := meResponse{UserID: userID, SessionID: currentSessionID(c)}
	if principal, ok := iauth.PrincipalFromContext(requestContext(c)); ok && !principal.ExpiresAt.IsZero() {
		expires := principal.ExpiresAt
		out.ExpiresAt = &expires
	}
	response.Success(c, http.StatusOK, out)
}
