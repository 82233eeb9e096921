package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/lensfusion/internal/auth"
	"github.com/charlesng35/lensfusion/internal/realtime"
	"github.com/charlesng35/lensfusion/internal/sessions"
	"github.com/charlesng35/lensfusion/pkg/errors"
	"github.com/charlesng35/lensfusion/pkg/response"
	appValidator "github.com/charlesng35/lensfusion/pkg/validator"
)

const (
	monitorWriteWait  = 5 * time.Second
	monitorPongWait   = 60 * time.Second
	monitorPingPeriod = (monitorPongWait * 9) / 10
)

// Upgrader switches an HTTP request to a WebSocket connection.
type Upgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error)
}

// SessionMonitorHandler streams revocation of the caller's own session.
type SessionMonitorHandler struct {
	registry *sessions.Registry
	identity IdentityProvider
	upgrader Upgrader
	log      *zap.Logger
}

func NewSessionMonitorHandler(registry *sessions.Registry, identity IdentityProvider, upgrader Upgrader, log *zap.Logger) (*SessionMonitorHandler, error) {
	if registry == nil || identity == nil || upgrader == nil {
		return nil, fmt.Errorf("session monitor handler: registry, identity provider and upgrader are required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionMonitorHandler{registry: registry, identity: identity, upgrader: upgrader, log: log}, nil
}

type revokedPayload struct {
	Cause sessions.RevocationCause `json:"cause"`
}

// GET /api/sessions/monitor
//
// Once the session of this device disappears the client receives a
// session.revoked event, the caller is signed out and the socket closes.
func (h *SessionMonitorHandler) Serve(c *gin.Context) {
	ctx := requestContext(c)
	userID, err := h.identity.CurrentUserID(ctx)
	if err != nil || userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	device, known, ok := h.resolveDevice(c, userID)
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request)
	if err != nil {
		h.log.Warn("session monitor upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}
	defer conn.Close()

	if known != nil && known.Status != sessions.StatusActive {
		h.revoke(ctx, conn, userID, sessions.CauseSessionGone)
		return
	}

	revoked := make(chan sessions.RevocationCause, 1)
	stop, err := h.registry.Monitor(ctx, userID, device, func(cause sessions.RevocationCause) {
		select {
		case revoked <- cause:
		default:
		}
	})
	if err != nil {
		h.log.Warn("session monitor setup failed", zap.String("user_id", userID), zap.Error(err))
		h.revoke(ctx, conn, userID, sessions.CauseSubscriptionError)
		return
	}
	defer stop()

	gone := make(chan struct{})
	go h.drain(conn, gone)

	ticker := time.NewTicker(monitorPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case cause := <-revoked:
			h.revoke(ctx, conn, userID, cause)
			return
		case <-gone:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(monitorWriteWait)); err != nil {
				return
			}
		}
	}
}

// resolveDevice picks the device to watch. A session named by the X-Session-ID
// header or the session_id query supplies the device recorded at creation.
// Otherwise the device comes from the request headers plus the platform and
// language overrides Create accepts, read here from the query string.
func (h *SessionMonitorHandler) resolveDevice(c *gin.Context, userID string) (sessions.DeviceInfo, *sessions.Session, bool) {
	sessionID := currentSessionID(c)
	if sessionID == "" {
		sessionID = strings.TrimSpace(c.Query("session_id"))
	}
	if sessionID != "" {
		s, err := h.registry.Get(requestContext(c), sessionID)
		switch {
		case err == nil && s.UserID == userID:
			return s.Device, &s, true
		case err != nil && !sessions.IsKind(err, sessions.KindNotFound):
			h.log.Warn("session lookup for monitor failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	var overrides deviceOverrides
	if err := c.ShouldBindQuery(&overrides); err != nil {
		response.Error(c, errors.NewBadRequest("invalid query parameters"))
		return sessions.DeviceInfo{}, nil, false
	}
	if err := appValidator.ValidateStruct(&overrides); err != nil {
		response.Error(c, errors.NewBadRequest(formatValidationError(err)))
		return sessions.DeviceInfo{}, nil, false
	}

	device := overrides.apply(sessions.DeviceInfoFromRequest(c.Request, c.ClientIP())).Normalized()
	if err := device.Validate(); err != nil {
		response.Error(c, errors.ErrSessionMalformed.WithMessage(formatValidationError(err)))
		return sessions.DeviceInfo{}, nil, false
	}
	return device, nil, true
}

// drain consumes client frames so control messages are processed, and closes
// gone when the client disconnects.
func (h *SessionMonitorHandler) drain(conn *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *SessionMonitorHandler) revoke(ctx context.Context, conn *websocket.Conn, userID string, cause sessions.RevocationCause) {
	_ = conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
	if err := conn.WriteJSON(realtime.Message{
		Stream: realtime.StreamSessions,
		Event:  realtime.EventSessionRevoked,
		Data:   revokedPayload{Cause: cause},
	}); err != nil {
		h.log.Debug("session revoked event not delivered", zap.String("user_id", userID), zap.Error(err))
	}

	if err := h.identity.SignOut(ctx); err != nil && !stderrors.Is(err, iauth.ErrNotRevocable) {
		h.log.Warn("sign out after revocation failed", zap.String("user_id", userID), zap.Error(err))
	}

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session revoked"),
		time.Now().Add(monitorWriteWait),
	)
}
