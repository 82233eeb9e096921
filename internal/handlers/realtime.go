package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/lensfusion/internal/realtime"
	"github.com/charlesng35/lensfusion/pkg/errors"
	"github.com/charlesng35/lensfusion/pkg/response"
)

// RealtimeHandler upgrades authenticated requests into hub subscriptions.
type RealtimeHandler struct {
	hub      *realtime.Hub
	identity IdentityProvider
}

func NewRealtimeHandler(hub *realtime.Hub, identity IdentityProvider) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, identity: identity}
}

// GET /api/realtime and /api/realtime/:stream
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	userID, err := h.identity.CurrentUserID(requestContext(c))
	if err != nil || userID == "" {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = []string{realtime.StreamSessions}
	}
	for _, stream := range streams {
		if !realtime.KnownStream(stream) {
			response.Error(c, errors.ErrNotFound.WithMessage("unknown stream "+stream))
			return
		}
	}

	h.hub.Serve(userID, streams, c.Writer, c.Request)
}

func gatherStreams(c *gin.Context) []string {
	var streams []string

	if pathStream := normalizeStream(c.Param("stream")); pathStream != "" {
		streams = append(streams, pathStream)
	}

	for _, queryStream := range c.QueryArray("stream") {
		if normalized := normalizeStream(queryStream); normalized != "" {
			streams = append(streams, normalized)
		}
	}

	if raw := c.Query("streams"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if normalized := normalizeStream(part); normalized != "" {
				streams = append(streams, normalized)
			}
		}
	}

	return uniqueStreams(streams)
}

func normalizeStream(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func uniqueStreams(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
