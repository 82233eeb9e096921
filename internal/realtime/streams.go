package realtime

// Named realtime streams.
const (
	// StreamSessions carries session list changes to a user's open settings pages.
	StreamSessions = "sessions"
)

// Events published on StreamSessions.
const (
	EventSessionsChanged = "sessions.changed"
	EventSessionRevoked  = "session.revoked"
)

// KnownStream reports whether clients may subscribe to stream.
func KnownStream(stream string) bool {
	_, ok := knownStreams[normalizeStream(stream)]
	return ok
}
