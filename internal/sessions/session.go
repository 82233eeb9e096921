package sessions

import (
	"fmt"
	"time"

	"github.com/charlesng35/lensfusion/internal/docstore"
)

// Collections used by the registry.
const (
	SessionsCollection     = "sessions"
	TerminationsCollection = "session_terminations"
)

// Stored field names.
const (
	fieldUserID            = "user_id"
	fieldUserAgent         = "device_user_agent"
	fieldPlatform          = "device_platform"
	fieldLanguage          = "device_language"
	fieldIPAddress         = "device_ip"
	fieldFingerprint       = "device_fingerprint"
	fieldStatus            = "status"
	fieldCreatedAt         = "created_at"
	fieldLastActive        = "last_active"
	fieldExpiresAt         = "expires_at"
	fieldTerminatedAt      = "terminated_at"
	fieldTerminatedBy      = "terminated_by"
	fieldTerminationReason = "termination_reason"
	fieldSessionID         = "session_id"
	fieldActor             = "actor"
	fieldReason            = "reason"
)

// Status of a session. Sessions only move from active to terminated.
type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// Termination reasons recorded by the HTTP layer.
const (
	ReasonUserRequested = "user_requested"
	ReasonTerminateAll  = "terminate_all"
)

// Session is one authenticated device for one user.
type Session struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	Device            DeviceInfo `json:"device"`
	Status            Status     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActive        time.Time  `json:"last_active"`
	ExpiresAt         time.Time  `json:"expires_at"`
	TerminatedAt      *time.Time `json:"terminated_at,omitempty"`
	TerminatedBy      string     `json:"terminated_by,omitempty"`
	TerminationReason string     `json:"termination_reason,omitempty"`
}

// Live reports whether the session is active and not yet expired at now.
func (s Session) Live(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiresAt.After(now)
}

// TerminationLog is the append-only audit record of an explicit termination.
type TerminationLog struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Device    DeviceInfo `json:"device"`
	Actor     string     `json:"actor"`
	Reason    string     `json:"reason"`
	CreatedAt time.Time  `json:"created_at"`
}

func deviceFields(device DeviceInfo) docstore.Fields {
	return docstore.Fields{
		fieldUserAgent:   device.UserAgent,
		fieldPlatform:    device.Platform,
		fieldLanguage:    device.Language,
		fieldIPAddress:   device.IPAddress,
		fieldFingerprint: device.Fingerprint(),
	}
}

func deviceFromDocument(doc docstore.Document) DeviceInfo {
	return DeviceInfo{
		UserAgent: doc.String(fieldUserAgent),
		Platform:  doc.String(fieldPlatform),
		Language:  doc.String(fieldLanguage),
		IPAddress: doc.String(fieldIPAddress),
	}
}

func newSessionFields(userID string, device DeviceInfo, now time.Time, ttl time.Duration) docstore.Fields {
	fields := deviceFields(device)
	fields[fieldUserID] = userID
	fields[fieldStatus] = string(StatusActive)
	fields[fieldCreatedAt] = now
	fields[fieldLastActive] = now
	fields[fieldExpiresAt] = now.Add(ttl)
	fields[fieldTerminatedAt] = nil
	fields[fieldTerminatedBy] = ""
	fields[fieldTerminationReason] = ""
	return fields
}

func sessionFromDocument(doc docstore.Document) (Session, error) {
	status := Status(doc.String(fieldStatus))
	if status != StatusActive && status != StatusTerminated {
		return Session{}, fmt.Errorf("document %s has unknown status %q", doc.ID, status)
	}
	s := Session{
		ID:                doc.ID,
		UserID:            doc.String(fieldUserID),
		Device:            deviceFromDocument(doc),
		Status:            status,
		CreatedAt:         doc.Time(fieldCreatedAt),
		LastActive:        doc.Time(fieldLastActive),
		ExpiresAt:         doc.Time(fieldExpiresAt),
		TerminatedBy:      doc.String(fieldTerminatedBy),
		TerminationReason: doc.String(fieldTerminationReason),
	}
	if at := doc.Time(fieldTerminatedAt); !at.IsZero() {
		s.TerminatedAt = &at
	}
	return s, nil
}

func terminationFromDocument(doc docstore.Document) TerminationLog {
	return TerminationLog{
		ID:        doc.ID,
		SessionID: doc.String(fieldSessionID),
		UserID:    doc.String(fieldUserID),
		Device:    deviceFromDocument(doc),
		Actor:     doc.String(fieldActor),
		Reason:    doc.String(fieldReason),
		CreatedAt: doc.Time(fieldCreatedAt),
	}
}
