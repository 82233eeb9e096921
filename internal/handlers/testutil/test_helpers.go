package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/charlesng35/lensfusion/internal/api"
	iauth "github.com/charlesng35/lensfusion/internal/auth"
	"github.com/charlesng35/lensfusion/internal/cache"
	"github.com/charlesng35/lensfusion/internal/docstore"
	"github.com/charlesng35/lensfusion/internal/docstore/memory"
	"github.com/charlesng35/lensfusion/internal/middleware"
	"github.com/charlesng35/lensfusion/internal/realtime"
	"github.com/charlesng35/lensfusion/internal/sessions"
	"github.com/charlesng35/lensfusion/pkg/response"
)

const (
	jwtSecret = "test-suite-super-secret-key-32-bytes!!"
	jwtIssuer = "test-suite"
)

// Browser identities used across handler tests.
const (
	ChromeWindows = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	SafariIPhone  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1"
)

// Env encapsulates a fully-wired API instance backed by an in-memory document store for handler tests.
type Env struct {
	T        *testing.T
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Revoker  *iauth.Revoker
	Registry *sessions.Registry
	Store    docstore.Store
	Hub      *realtime.Hub
	Cache    cache.Store
}

// Option customises the environment before the router is built.
type Option func(*envOptions)

type envOptions struct {
	store     docstore.Store
	sessions  sessions.Config
	rateLimit middleware.RateLimitConfig
	log       *zap.Logger
}

// WithStore replaces the in-memory document store.
func WithStore(store docstore.Store) Option {
	return func(o *envOptions) { o.store = store }
}

// WithSessionConfig adjusts the registry configuration.
func WithSessionConfig(fn func(*sessions.Config)) Option {
	return func(o *envOptions) { fn(&o.sessions) }
}

// WithRateLimit enables the per-user rate limit.
func WithRateLimit(cfg middleware.RateLimitConfig) Option {
	return func(o *envOptions) { o.rateLimit = cfg }
}

// WithLogger routes registry and handler logs to log.
func WithLogger(log *zap.Logger) Option {
	return func(o *envOptions) { o.log = log }
}

// NewEnv provisions a fresh handler test environment.
func NewEnv(t *testing.T, opts ...Option) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	o := envOptions{
		store:    memory.New(),
		sessions: sessions.Config{MonitorInterval: 20 * time.Millisecond},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.sessions.Logger = o.log

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         jwtSecret,
		Issuer:         jwtIssuer,
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)

	store := cache.NewMemoryStore()
	revoker, err := iauth.NewRevoker(store, nil)
	require.NoError(t, err)

	registry, err := sessions.NewRegistry(o.store, o.sessions)
	require.NoError(t, err)

	hub := realtime.NewHub(o.log)
	router, err := api.NewRouter(api.Dependencies{
		Registry:  registry,
		JWT:       jwtSvc,
		Revoker:   revoker,
		Hub:       hub,
		RateStore: store,
		RateLimit: o.rateLimit,
		Logger:    o.log,
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = o.store.Close(context.Background()) })

	return &Env{
		T:        t,
		Router:   router,
		JWT:      jwtSvc,
		Revoker:  revoker,
		Registry: registry,
		Store:    o.store,
		Hub:      hub,
		Cache:    store,
	}
}

// Token issues an access token for userID.
func (e *Env) Token(userID string) string {
	e.T.Helper()
	token, err := e.JWT.GenerateAccessToken(iauth.AccessTokenInput{UserID: userID})
	require.NoError(e.T, err)
	return token
}

// TokenWithoutID signs a token that carries no jti and so cannot be revoked.
func (e *Env) TokenWithoutID(userID string) string {
	e.T.Helper()
	now := time.Now()
	claims := iauth.Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
	require.NoError(e.T, err)
	return token
}

// Server starts a real HTTP server around the router, for WebSocket tests.
func (e *Env) Server() *httptest.Server {
	e.T.Helper()
	srv := httptest.NewServer(e.Router)
	e.T.Cleanup(srv.Close)
	return srv
}

// Browser returns headers a desktop Chrome on Windows sends.
func Browser() http.Header {
	h := http.Header{}
	h.Set("User-Agent", ChromeWindows)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request from the default browser.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.RequestWithHeaders(method, path, body, token, Browser())
}

// RequestWithHeaders executes an HTTP request against the test router,
// applying JSON encoding and auth headers automatically.
func (e *Env) RequestWithHeaders(method, path string, body any, token string, headers http.Header) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	for key, values := range headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}
