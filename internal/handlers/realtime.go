package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/parkpal/internal/realtime"
	"github.com/charlesng35/parkpal/pkg/errors"
	"github.com/charlesng35/parkpal/pkg/response"
)

// defaultStreams are subscribed when a client names none.
var defaultStreams = []string{
	realtime.StreamPush,
	realtime.StreamNotifications,
	realtime.StreamReports,
}

// RealtimeHandler upgrades authenticated HTTP connections into WebSocket streams.
type RealtimeHandler struct {
	hub            *realtime.Hub
	allowedStreams map[string]struct{}
}

// NewRealtimeHandler constructs a realtime handler restricted to streams, or to
// realtime.KnownStreams when none are given.
func NewRealtimeHandler(hub *realtime.Hub, streams ...string) *RealtimeHandler {
	allowed := make(map[string]struct{}, len(streams))
	for _, stream := range streams {
		stream = normalizeStream(stream)
		if stream == "" {
			continue
		}
		allowed[stream] = struct{}{}
	}
	if len(allowed) == 0 {
		for stream := range realtime.KnownStreams {
			allowed[stream] = struct{}{}
		}
	}

	return &RealtimeHandler{
		hub:            hub,
		allowedStreams: allowed,
	}
}

// Stream upgrades the request to the realtime hub. Streams are picked from the
// :stream path parameter, repeated stream= queries or a comma separated streams= query.
func (h *RealtimeHandler) Stream(c *gin.Context) {
	if h.hub == nil {
		response.Error(c, errors.ErrNotFound)
		return
	}

	session, ok := currentSession(c)
	if !ok {
		return
	}

	streams := gatherStreams(c)
	if len(streams) == 0 {
		streams = defaultStreams
	}

	for _, stream := range streams {
		if _, ok := h.allowedStreams[stream]; !ok {
			response.Error(c, errors.ErrNotFound)
			return
		}
	}

	h.hub.Serve(session.UserID, streams, h.allowedStreams, c.Writer, c.Request)
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

	raw := c.Query("streams")
	if raw != "" {
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
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}
