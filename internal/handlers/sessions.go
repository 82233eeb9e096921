package handlers

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	iauth "github.com/charlesng35/lensfusion/internal/auth"
	"github.com/charlesng35/lensfusion/internal/realtime"
	"github.com/charlesng35/lensfusion/internal/sessions"
	"github.com/charlesng35/lensfusion/pkg/errors"
	"github.com/charlesng35/lensfusion/pkg/response"
)

const (
	defaultTerminationsLimit = 50
	maxTerminationsLimit     = 200
)

// Broadcaster pushes realtime events to a user's open connections.
type Broadcaster interface {
	BroadcastToUser(stream, userID string, message realtime.Message)
}

// SessionHandler serves the session management page.
type SessionHandler struct {
	registry *sessions.Registry
	identity IdentityProvider
	hub      Broadcaster
	log      *zap.Logger
}

// NewSessionHandler wires the registry to HTTP. hub may be nil when realtime
// updates are disabled.
func NewSessionHandler(registry *sessions.Registry, identity IdentityProvider, hub Broadcaster, log *zap.Logger) (*SessionHandler, error) {
	if registry == nil {
		return nil, fmt.Errorf("session handler: registry is required")
	}
	if identity == nil {
		return nil, fmt.Errorf("session handler: identity provider is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SessionHandler{registry: registry, identity: identity, hub: hub, log: log}, nil
}

// deviceOverrides lets a client replace the platform and language derived
// from its headers. Create takes them from the JSON body and the monitor
// stream from the query string, so both resolve the same fingerprint.
type deviceOverrides struct {
	Platform string `json:"platform" form:"platform" validate:"omitempty,max=64"`
	Language string `json:"language" form:"language" validate:"omitempty,max=35"`
}

func (o deviceOverrides) apply(device sessions.DeviceInfo) sessions.DeviceInfo {
	if v := strings.TrimSpace(o.Platform); v != "" {
		device.Platform = v
	}
	if v := strings.TrimSpace(o.Language); v != "" {
		device.Language = v
	}
	return device
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Tracked   bool   `json:"tracked"`
}

// POST /api/sessions
func (h *SessionHandler) Create(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	device := sessions.DeviceInfoFromRequest(c.Request, c.ClientIP())
	if hasBody(c) {
		var req deviceOverrides
		if !bindAndValidate(c, &req) {
			return
		}
		device = req.apply(device)
	}

	id, err := h.registry.Create(requestContext(c), userID, device)
	switch {
	case err == nil:
	case sessions.IsKind(err, sessions.KindStoreUnavailable):
		// Sign-in proceeds untracked.
		h.log.Warn("session tracking unavailable", zap.String("user_id", userID), zap.Error(err))
		response.Success(c, http.StatusOK, createSessionResponse{})
		return
	default:
		response.Error(c, sessionError(err))
		return
	}

	h.notifyChanged(userID)
	response.Success(c, http.StatusOK, createSessionResponse{SessionID: id, Tracked: true})
}

type sessionView struct {
	sessions.Session
	Label      string              `json:"label"`
	DeviceType sessions.DeviceType `json:"device_type"`
	Current    bool                `json:"current"`
}

// GET /api/sessions
func (h *SessionHandler) List(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	opts, err := parseFilterOptions(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	list, err := h.registry.List(requestContext(c), userID, sessions.ListOptions{Fresh: parseBoolQuery(c, "fresh")})
	if err != nil {
		response.Error(c, sessionError(err))
		return
	}

	filtered := sessions.Filter(list, opts)
	current := currentSessionID(c)
	views := make([]sessionView, 0, len(filtered))
	for _, s := range filtered {
		views = append(views, sessionView{
			Session:    s,
			Label:      s.Device.Label(),
			DeviceType: s.Device.DeviceType(),
			Current:    current != "" && s.ID == current,
		})
	}

	response.SuccessWithMeta(c, http.StatusOK, views, &response.Meta{Total: len(list), Count: len(views)})
}

// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	sessionID := strings.TrimSpace(c.Param("id"))
	result, err := h.registry.Delete(requestContext(c), sessionID, sessions.DeleteOptions{
		Actor:   userID,
		Reason:  sessions.ReasonUserRequested,
		OwnerID: userID,
	})
	if err != nil {
		response.Error(c, sessionError(err))
		return
	}
	if result == sessions.ResultNotFound {
		response.Error(c, errors.ErrSessionNotFound)
		return
	}
	h.notifyChanged(userID)

	signedOut := false
	if sessionID == currentSessionID(c) {
		err := h.identity.SignOut(requestContext(c))
		switch {
		case err == nil:
			signedOut = true
		case stderrors.Is(err, iauth.ErrNotRevocable):
			h.log.Debug("token cannot be revoked; left to expire", zap.String("user_id", userID))
		default:
			h.log.Warn("sign out after self termination failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	response.Success(c, http.StatusOK, gin.H{"terminated": true, "signed_out": signedOut})
}

type terminateAllRequest struct {
	Except string `json:"except" validate:"omitempty,max=128"`
}

// POST /api/sessions/terminate_all
func (h *SessionHandler) TerminateAll(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	except := currentSessionID(c)
	if hasBody(c) {
		var req terminateAllRequest
		if !bindAndValidate(c, &req) {
			return
		}
		if v := strings.TrimSpace(req.Except); v != "" {
			except = v
		}
	}

	count, err := h.registry.TerminateAll(requestContext(c), userID, except, sessions.TerminateAllOptions{Actor: userID})
	if err != nil && count == 0 {
		response.Error(c, sessionError(err))
		return
	}
	if count > 0 {
		h.notifyChanged(userID)
	}

	response.Success(c, http.StatusOK, gin.H{
		"terminated": count,
		"failed":     len(multierr.Errors(err)),
	})
}

// GET /api/sessions/terminations
func (h *SessionHandler) Terminations(c *gin.Context) {
	userID, ok := h.currentUser(c)
	if !ok {
		return
	}

	limit := parseIntQuery(c, "limit", defaultTerminationsLimit)
	if limit <= 0 || limit > maxTerminationsLimit {
		limit = defaultTerminationsLimit
	}

	logs, err := h.registry.Terminations(requestContext(c), userID, limit)
	if err != nil {
		response.Error(c, sessionError(err))
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Total: len(logs), Count: len(logs)})
}

func (h *SessionHandler) currentUser(c *gin.Context) (string, bool) {
	userID, err := h.identity.CurrentUserID(requestContext(c))
	if err != nil || userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return "", false
	}
	return userID, true
}

func (h *SessionHandler) notifyChanged(userID string) {
	if h.hub == nil {
		return
	}
	h.hub.BroadcastToUser(realtime.StreamSessions, userID, realtime.Message{Event: realtime.EventSessionsChanged})
}

func parseFilterOptions(c *gin.Context) (sessions.FilterOptions, error) {
	opts := sessions.FilterOptions{
		Search:    c.Query("q"),
		SortBy:    sessions.ParseSortField(c.Query("sort")),
		Ascending: strings.EqualFold(strings.TrimSpace(c.Query("order")), "asc"),
	}

	if raw := strings.ToLower(strings.TrimSpace(c.Query("device_type"))); raw != "" {
		switch dt := sessions.DeviceType(raw); dt {
		case sessions.DeviceDesktop, sessions.DeviceMobile, sessions.DeviceTablet, sessions.DeviceBot, sessions.DeviceUnknown:
			opts.DeviceType = dt
		default:
			return opts, errors.NewBadRequest(fmt.Sprintf("unknown device_type %q", raw))
		}
	}
	return opts, nil
}

// sessionError maps registry failures onto API errors.
func sessionError(err error) error {
	var se *sessions.Error
	if !stderrors.As(err, &se) {
		return errors.ErrInternalServer.WithInternal(err)
	}
	switch se.Kind {
	case sessions.KindNotFound:
		return errors.ErrSessionNotFound.WithInternal(err)
	case sessions.KindMalformedInput:
		return errors.ErrSessionMalformed.WithMessage(se.Message).WithInternal(err)
	case sessions.KindStoreUnavailable, sessions.KindSubscription:
		return errors.ErrSessionStoreUnavailable.WithInternal(err)
	default:
		return errors.ErrInternalServer.WithInternal(err)
	}
}
