package sessions

import (
	"sort"
	"strings"
	"time"
)

// SortField selects the timestamp Filter orders by.
type SortField string

const (
	SortByExpiresAt  SortField = "expires_at"
	SortByLastActive SortField = "last_active"
	SortByCreatedAt  SortField = "created_at"
)

// ParseSortField maps a query parameter onto a SortField, defaulting to expiry.
func ParseSortField(value string) SortField {
	switch SortField(strings.ToLower(strings.TrimSpace(value))) {
	case SortByLastActive:
		return SortByLastActive
	case SortByCreatedAt:
		return SortByCreatedAt
	default:
		return SortByExpiresAt
	}
}

// FilterOptions narrows and re-sorts a List result on the caller side.
type FilterOptions struct {
	DeviceType DeviceType
	// Search matches case-insensitively against the user agent, platform,
	// language, IP address and device label.
	Search    string
	SortBy    SortField
	Ascending bool
}

// Filter returns the sessions matching opts in the requested order. The
// input slice is not modified.
func Filter(sessions []Session, opts FilterOptions) []Session {
	search := strings.ToLower(strings.TrimSpace(opts.Search))

	out := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if opts.DeviceType != "" && s.Device.DeviceType() != opts.DeviceType {
			continue
		}
		if search != "" && !matchesSearch(s.Device, search) {
			continue
		}
		out = append(out, s)
	}

	key := sortKey(opts.SortBy)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := key(out[i]), key(out[j])
		if opts.Ascending {
			return a.Before(b)
		}
		return a.After(b)
	})
	return out
}

func sortKey(field SortField) func(Session) time.Time {
	switch field {
	case SortByLastActive:
		return func(s Session) time.Time { return s.LastActive }
	case SortByCreatedAt:
		return func(s Session) time.Time { return s.CreatedAt }
	default:
		return func(s Session) time.Time { return s.ExpiresAt }
	}
}

func matchesSearch(d DeviceInfo, needle string) bool {
	for _, haystack := range []string{d.UserAgent, d.Platform, d.Language, d.IPAddress, d.Label()} {
		if strings.Contains(strings.ToLower(haystack), needle) {
			return true
		}
	}
	return false
}
