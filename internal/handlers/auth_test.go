package handlers_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/lensfusion/internal/handlers/testutil"
	"github.com/charlesng35/lensfusion/internal/middleware"
)

func TestAuthHandler_MeAndLogout(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.Token("user-1")

	headers := testutil.Browser()
	headers.Set(middleware.SessionHeader, "sess-42")
	w := env.RequestWithHeaders(http.MethodGet, "/api/auth/me", nil, token, headers)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var me struct {
		UserID    string `json:"user_id"`
		SessionID string `json:"session_id"`
		ExpiresAt string `json:"token_expires_at"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &me)
	require.Equal(t, "user-1", me.UserID)
	require.Equal(t, "sess-42", me.SessionID)
	require.NotEmpty(t, me.ExpiresAt)

	w = env.Request(http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.Request(http.MethodGet, "/api/auth/me", nil, env.Token("user-1"))
	require.Equal(t, http.StatusOK, w.Code, "a fresh token is unaffected")
}

func TestAuthHandler_LogoutReportsUnrevocableToken(t *testing.T) {
	env := testutil.NewEnv(t)
	token := env.TokenWithoutID("user-1")

	w := env.Request(http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var out struct {
		Revoked bool `json:"revoked"`
	}
	testutil.DecodeInto(t, testutil.DecodeResponse(t, w).Data, &out)
	require.False(t, out.Revoked)

	w = env.Request(http.MethodGet, "/api/auth/me", nil, token)
	require.Equal(t, http.StatusOK, w.Code, "the token stays valid until it expires")
}

func TestRouter_PublicRoutes(t *testing.T) {
	env := testutil.NewEnv(t)

	w := env.Request(http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.Request(http.MethodGet, "/metrics", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "lensfusion_")

	w = env.Request(http.MethodGet, "/nope", nil, "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_FOUND", testutil.DecodeResponse(t, w).Error.Code)
}
